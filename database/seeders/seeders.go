package seeders

import (
	"log"

	"bimbingan_go/database"
	"bimbingan_go/models"
	"bimbingan_go/utils"
)

// SeedAll runs all seeders
func SeedAll() {
	log.Println("Starting database seeding...")

	SeedUsers()
	SeedSubmissions()

	log.Println("Database seeding completed successfully!")
}

// SeedUsers seeds an administrator, two lecturers and one student
func SeedUsers() {
	var count int64
	database.DB.Model(&models.User{}).Count(&count)
	if count > 0 {
		log.Println("Users already seeded, skipping...")
		return
	}

	// Hash the default password
	hashedPassword, err := utils.HashPassword("password123")
	if err != nil {
		log.Printf("Error hashing seed password: %v", err)
		return
	}

	users := []models.User{
		{
			Username: "admin",
			Password: hashedPassword,
			FullName: "Administrator Prodi",
			Email:    "admin@bimbingan.local",
			Role:     models.RoleAdmin,
			Status:   models.StatusActive,
		},
		{
			Username: "dosen_budi",
			Password: hashedPassword,
			FullName: "Dr. Budi Santoso",
			Email:    "budi@bimbingan.local",
			NIDN:     "0012038101",
			Role:     models.RoleLecturer,
			Status:   models.StatusActive,
		},
		{
			Username: "dosen_sari",
			Password: hashedPassword,
			FullName: "Sari Wulandari, M.Kom.",
			Email:    "sari@bimbingan.local",
			NIDN:     "0021078502",
			Role:     models.RoleLecturer,
			Status:   models.StatusActive,
		},
		{
			Username: "mhs_andi",
			Password: hashedPassword,
			FullName: "Andi Pratama",
			Email:    "andi@bimbingan.local",
			NIM:      "2001010001",
			Role:     models.RoleStudent,
			Status:   models.StatusActive,
		},
	}

	for i := range users {
		if err := database.DB.Create(&users[i]).Error; err != nil {
			log.Printf("Error seeding user %s: %v", users[i].Username, err)
		}
	}

	log.Println("Users seeded successfully")
}

// SeedSubmissions seeds one submitted proposal for the sample student
func SeedSubmissions() {
	var count int64
	database.DB.Model(&models.Submission{}).Count(&count)
	if count > 0 {
		log.Println("Submissions already seeded, skipping...")
		return
	}

	var student, primary, secondary models.User
	if database.DB.Where("username = ?", "mhs_andi").First(&student).Error != nil ||
		database.DB.Where("username = ?", "dosen_budi").First(&primary).Error != nil ||
		database.DB.Where("username = ?", "dosen_sari").First(&secondary).Error != nil {
		log.Println("Sample users missing, skipping submissions...")
		return
	}

	submission := models.Submission{
		StudentID:             student.ID,
		Title:                 "Sistem Informasi Bimbingan Skripsi Berbasis Web",
		Description:           "Aplikasi pencatatan proses bimbingan skripsi secara daring.",
		TopicArea:             "Rekayasa Perangkat Lunak",
		Keywords:              "bimbingan, skripsi, websocket",
		Status:                models.SubmissionSubmitted,
		PrimarySupervisorID:   &primary.ID,
		SecondarySupervisorID: &secondary.ID,
	}
	if err := database.DB.Create(&submission).Error; err != nil {
		log.Printf("Error seeding submission: %v", err)
		return
	}

	log.Println("Submissions seeded successfully")
}
