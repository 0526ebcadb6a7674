package storage

import (
	"bimbingan_go/config"
	"bimbingan_go/utils"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
)

var (
	// ErrExtensionNotAllowed rejects files outside ALLOWED_EXTENSIONS.
	ErrExtensionNotAllowed = errors.New("file type is not allowed")
	// ErrFileTooLarge rejects files above MAX_FILE_SIZE.
	ErrFileTooLarge = errors.New("file exceeds the maximum upload size")
	// ErrEmptyFile rejects zero byte uploads.
	ErrEmptyFile = errors.New("file is empty")
)

// StorageService stores uploaded documents on S3 and hands back opaque
// document references.
type StorageService struct {
	s3Client s3iface.S3API
	bucket   string
	region   string
	allowed  []string
	maxSize  int64
	now      func() time.Time
}

// NewStorageService creates a new storage service
func NewStorageService() (*StorageService, error) {
	awsCfg := &aws.Config{Region: aws.String(config.AppConfig.AWSRegion)}
	if config.AppConfig.AWSAccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			config.AppConfig.AWSAccessKeyID,
			config.AppConfig.AWSSecretAccessKey,
			"",
		)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewWithClient(
		s3.New(sess),
		config.AppConfig.S3BucketName,
		config.AppConfig.AWSRegion,
		utils.SplitList(config.AppConfig.AllowedExtensions),
		config.AppConfig.MaxFileSize,
	), nil
}

// NewWithClient builds a storage service around an existing S3 client.
func NewWithClient(client s3iface.S3API, bucket, region string, allowed []string, maxSize int64) *StorageService {
	return &StorageService{
		s3Client: client,
		bucket:   bucket,
		region:   region,
		allowed:  allowed,
		maxSize:  maxSize,
		now:      time.Now,
	}
}

// UploadDocument validates and uploads one multipart file under
// folder/<owner>/<yyyy>/<mm>/<dd>/ and returns its document reference.
func (s *StorageService) UploadDocument(ctx context.Context, file *multipart.FileHeader, folder string, ownerID uint) (string, error) {
	if err := s.Validate(file.Filename, file.Size); err != nil {
		return "", err
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	fileBytes, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return s.Put(ctx, fileBytes, file.Filename, folder, ownerID)
}

// Validate checks name and size against the upload policy.
func (s *StorageService) Validate(filename string, size int64) error {
	if !utils.IsValidFileExtension(filename, s.allowed) {
		return ErrExtensionNotAllowed
	}
	if size <= 0 {
		return ErrEmptyFile
	}
	if s.maxSize > 0 && size > s.maxSize {
		return ErrFileTooLarge
	}
	return nil
}

// Put uploads raw bytes and returns the document reference.
func (s *StorageService) Put(ctx context.Context, data []byte, filename, folder string, ownerID uint) (string, error) {
	if err := s.Validate(filename, int64(len(data))); err != nil {
		return "", err
	}
	ext := getFileExtension(filename)
	key := s.objectKey(folder, ownerID, ext)

	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(getContentType(ext)),
		Metadata: map[string]*string{
			"original-name": aws.String(filepath.Base(filename)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return s.refFor(key), nil
}

// DeleteFile deletes a file from S3
func (s *StorageService) DeleteFile(ctx context.Context, ref string) error {
	key := extractKeyFromURL(ref)
	if key == "" {
		return fmt.Errorf("invalid document reference %q", ref)
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *StorageService) objectKey(folder string, ownerID uint, ext string) string {
	now := s.now().UTC()
	return fmt.Sprintf("%s/%d/%d/%02d/%02d/%s.%s",
		strings.Trim(folder, "/"),
		ownerID,
		now.Year(),
		now.Month(),
		now.Day(),
		uuid.New().String(),
		ext,
	)
}

func (s *StorageService) refFor(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// getFileExtension extracts file extension from filename
func getFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 1 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// getContentType returns the MIME type for the file extension
func getContentType(extension string) string {
	switch strings.ToLower(extension) {
	case "pdf":
		return "application/pdf"
	case "doc":
		return "application/msword"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "ppt":
		return "application/vnd.ms-powerpoint"
	case "pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// extractKeyFromURL extracts the S3 key from a full URL
func extractKeyFromURL(url string) string {
	// https://bucket.s3.region.amazonaws.com/path/to/file.ext
	parts := strings.SplitN(url, ".amazonaws.com/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
