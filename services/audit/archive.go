package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"bimbingan_go/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MinArchiveAge keeps recent history queryable in the database.
const MinArchiveAge = 7

// ErrArchiveNotFound is returned for an unknown archive id.
var ErrArchiveNotFound = errors.New("archive not found")

// ObjectStore is the part of the S3 client the archiver needs.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archiver moves old activity logs into zip files on S3.
type Archiver struct {
	db      *gorm.DB
	objects ObjectStore
	bucket  string
}

// ArchivedLog is the exported representation stored inside archives
type ArchivedLog struct {
	ID         uint           `json:"id"`
	UserID     uint           `json:"user_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID uint           `json:"resource_id"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewArchiver creates an archiver with an explicit object store.
func NewArchiver(db *gorm.DB, objects ObjectStore, bucket string) *Archiver {
	return &Archiver{db: db, objects: objects, bucket: bucket}
}

// NewS3Archiver builds the S3 client from the default AWS credential chain.
func NewS3Archiver(ctx context.Context, db *gorm.DB, region, bucket string) *Archiver {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		logrus.WithError(err).Warn("Failed to load AWS config; archiving disabled")
		return NewArchiver(db, nil, bucket)
	}
	return NewArchiver(db, s3.NewFromConfig(cfg), bucket)
}

// ArchiveOlderThan archives every log older than daysOld days, deletes them
// from the database and records a LogArchive row.
func (a *Archiver) ArchiveOlderThan(ctx context.Context, daysOld int) (*models.LogArchive, error) {
	if daysOld < MinArchiveAge {
		return nil, fmt.Errorf("minimum archive age is %d days", MinArchiveAge)
	}
	if a.objects == nil {
		return nil, errors.New("object storage not configured")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)
	var rows []models.ActivityLog
	if err := a.db.WithContext(ctx).Where("created_at < ?", cutoff).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch logs for archiving: %w", err)
	}
	if len(rows) == 0 {
		logrus.Debug("no activity logs to archive")
		return nil, nil
	}

	logs := make([]ArchivedLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, toArchived(row))
	}

	fileName := fmt.Sprintf("activity_logs_%s.zip", cutoff.Format("2006-01-02"))
	buf, err := createZipArchive(logs, fileName)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("logs/archived/%d/%02d/%s", cutoff.Year(), cutoff.Month(), fileName)
	_, err = a.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload archive: %w", err)
	}

	lastID := rows[len(rows)-1].ID
	archive := &models.LogArchive{
		FileName:    fileName,
		S3Key:       key,
		EndDate:     cutoff,
		RecordCount: len(rows),
		FileSize:    int64(buf.Len()),
		Status:      "completed",
	}
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("created_at < ? AND id <= ?", cutoff, lastID).Delete(&models.ActivityLog{}).Error; err != nil {
			return err
		}
		return tx.Create(archive).Error
	})
	if err != nil {
		return nil, fmt.Errorf("archive uploaded to %s but database cleanup failed: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{"s3_key": key, "records": len(rows)}).Info("archived activity logs")
	return archive, nil
}

// List returns archive metadata, newest first.
func (a *Archiver) List(ctx context.Context) ([]models.LogArchive, error) {
	var archives []models.LogArchive
	err := a.db.WithContext(ctx).Order("created_at DESC").Find(&archives).Error
	return archives, err
}

// Open streams one archive back from S3.
func (a *Archiver) Open(ctx context.Context, id uint) (io.ReadCloser, string, error) {
	var archive models.LogArchive
	if err := a.db.WithContext(ctx).First(&archive, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrArchiveNotFound
		}
		return nil, "", err
	}
	if a.objects == nil {
		return nil, "", errors.New("object storage not configured")
	}
	out, err := a.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(archive.S3Key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download archive: %w", err)
	}
	return out.Body, archive.FileName, nil
}

func toArchived(row models.ActivityLog) ArchivedLog {
	out := ArchivedLog{
		ID:         row.ID,
		UserID:     row.UserID,
		Action:     row.Action,
		Resource:   row.Resource,
		ResourceID: row.ResourceID,
		IPAddress:  row.IPAddress,
		UserAgent:  row.UserAgent,
		CreatedAt:  row.CreatedAt,
	}
	if !row.Details.IsNull() {
		var details map[string]any
		if err := json.Unmarshal(row.Details, &details); err == nil {
			out.Details = details
		}
	}
	return out
}

// createZipArchive writes the logs as JSON and CSV plus a metadata file.
func createZipArchive(logs []ArchivedLog, fileName string) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	logsFile, err := zw.Create("activity_logs.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create logs file in ZIP: %w", err)
	}
	enc := json.NewEncoder(logsFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"export_date":    time.Now().UTC(),
		"record_count":   len(logs),
		"format_version": "1.0",
		"logs":           logs,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode logs to JSON: %w", err)
	}

	metaFile, err := zw.Create("metadata.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata file in ZIP: %w", err)
	}
	if err := json.NewEncoder(metaFile).Encode(map[string]any{
		"file_name":    fileName,
		"created_at":   time.Now().UTC(),
		"record_count": len(logs),
		"date_range": map[string]any{
			"start": logs[0].CreatedAt,
			"end":   logs[len(logs)-1].CreatedAt,
		},
		"schema_version": "1.0",
		"description":    "Thesis guidance activity log archive",
	}); err != nil {
		return nil, fmt.Errorf("failed to encode metadata to JSON: %w", err)
	}

	csvFile, err := zw.Create("activity_logs.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file in ZIP: %w", err)
	}
	w := csv.NewWriter(csvFile)
	w.Write([]string{"ID", "User ID", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"})
	for _, l := range logs {
		details := ""
		if l.Details != nil {
			if b, err := json.Marshal(l.Details); err == nil {
				details = string(b)
			}
		}
		w.Write([]string{
			strconv.FormatUint(uint64(l.ID), 10),
			strconv.FormatUint(uint64(l.UserID), 10),
			l.Action,
			l.Resource,
			strconv.FormatUint(uint64(l.ResourceID), 10),
			l.IPAddress,
			l.UserAgent,
			l.CreatedAt.Format("2006-01-02 15:04:05"),
			details,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close ZIP writer: %w", err)
	}
	return buf, nil
}
