// Package auth covers player registration, credential checks, and the
// opaque session tokens carried by every authenticated command.
package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"lukechampine.com/blake3"
)

const TokenBytes = 32 // 64 hex chars on the wire

// Digest hashes a credential pair. The name is mixed in so two players with
// the same password never share a digest.
func Digest(name, password string) string {
	sum := blake3.Sum256([]byte(name + ":" + password))
	return hex.EncodeToString(sum[:])
}

func NewToken() (string, error) {
	raw := make([]byte, TokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// CreateSession inserts a fresh token for playerID inside tx.
func CreateSession(tx *sql.Tx, playerID int64, ttl time.Duration) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	now := time.Now().Unix()
	_, err = tx.Exec(`INSERT INTO sessions (token, player_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, playerID, now, now+int64(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Resolve maps a token to its player id. Expired tokens are treated exactly
// like absent ones: (0, nil).
func Resolve(db *sql.DB, token string) (int64, error) {
	var playerID int64
	err := db.QueryRow(`SELECT player_id FROM sessions WHERE token = ? AND expires_at > ?`,
		token, time.Now().Unix()).Scan(&playerID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return playerID, nil
}

// Revoke deletes the session row, if any.
func Revoke(db *sql.DB, token string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// Refresh swaps token for a new one under one transaction. Returns "" when
// the old token is unknown or expired.
func Refresh(db *sql.DB, token string, ttl time.Duration) (string, error) {
	tx, err := db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var playerID int64
	err = tx.QueryRow(`SELECT player_id FROM sessions WHERE token = ? AND expires_at > ?`,
		token, time.Now().Unix()).Scan(&playerID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return "", err
	}
	fresh, err := CreateSession(tx, playerID, ttl)
	if err != nil {
		return "", err
	}
	return fresh, tx.Commit()
}
