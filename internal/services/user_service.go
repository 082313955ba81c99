package services

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/happypulse/pulse-backend/internal/database"
	"github.com/happypulse/pulse-backend/internal/models"
)

// GetUsernameByID retrieves a username by user ID.
func GetUsernameByID(userID string) (string, error) {
	parsedID, err := uuid.Parse(userID)
	if err != nil {
		return "", err
	}

	var username string
	err = database.PostgresDB.QueryRow(`
		SELECT username FROM users WHERE id = $1 AND is_active = TRUE
	`, parsedID).Scan(&username)

	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil // User not found or inactive
		}
		return "", err
	}

	return username, nil
}

// GetUserIDByUsername retrieves a user ID by username.
func GetUserIDByUsername(username string) (string, error) {
	var userID uuid.UUID
	err := database.PostgresDB.QueryRow(`
		SELECT id FROM users WHERE LOWER(username) = $1 AND is_active = TRUE
	`, username).Scan(&userID)

	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}

	return userID.String(), nil
}

// GetUserByID returns the full public profile.
func GetUserByID(userID uuid.UUID) (*models.User, error) {
	var u models.User
	var email, gender, avatarURL, avatarColor sql.NullString
	err := database.PostgresDB.QueryRow(`
		SELECT id, username, email, gender, avatar_url, avatar_color, created_at
		FROM users WHERE id = $1 AND is_active = TRUE
	`, userID).Scan(&u.ID, &u.Username, &email, &gender, &avatarURL, &avatarColor, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.Email = email.String
	u.Gender = gender.String
	u.AvatarURL = avatarURL.String
	u.AvatarColor = avatarColor.String
	return &u, nil
}

// ListUsers returns every active user's public profile, newest first.
func ListUsers() ([]models.User, error) {
	rows, err := database.PostgresDB.Query(`
		SELECT id, username, gender, avatar_url, avatar_color, created_at
		FROM users WHERE is_active = TRUE
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var gender, avatarURL, avatarColor sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &gender, &avatarURL, &avatarColor, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Gender = gender.String
		u.AvatarURL = avatarURL.String
		u.AvatarColor = avatarColor.String
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateAvatarURL saves the uploaded avatar location on the user row.
func UpdateAvatarURL(userID uuid.UUID, url string) error {
	_, err := database.PostgresDB.Exec(`
		UPDATE users SET avatar_url = $1 WHERE id = $2
	`, url, userID)
	return err
}
