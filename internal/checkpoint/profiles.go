package checkpoint

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	masterKeyEnv = "TG_MIGRATE_MASTER_KEY"
	sealVersion  = byte(1)
)

// ProfileInfo describes a stored profile. TenantID and OutputDir are kept in
// clear so profiles can be listed without the master key; the config itself
// holds API tokens and the service role key and is always sealed.
type ProfileInfo struct {
	Name        string
	Description string
	TenantID    string
	OutputDir   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SaveProfile seals config under the master key and stores it with p's
// metadata, replacing any profile of the same name.
func (h *History) SaveProfile(p ProfileInfo, config []byte) error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	s, err := newSealer()
	if err != nil {
		return err
	}
	enc, err := s.seal(p.Name, config)
	if err != nil {
		return err
	}

	_, err = h.db.Exec(`
		INSERT INTO profiles (name, description, tenant_id, output_dir, config_enc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			tenant_id = excluded.tenant_id,
			output_dir = excluded.output_dir,
			config_enc = excluded.config_enc,
			updated_at = datetime('now')
	`, p.Name, p.Description, p.TenantID, p.OutputDir, enc)
	return err
}

// GetProfile returns the decrypted config of a profile.
func (h *History) GetProfile(name string) ([]byte, error) {
	var enc []byte
	err := h.db.QueryRow(`SELECT config_enc FROM profiles WHERE name = ?`, name).Scan(&enc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	s, err := newSealer()
	if err != nil {
		return nil, err
	}
	return s.open(name, enc)
}

// DeleteProfile removes a profile.
func (h *History) DeleteProfile(name string) error {
	res, err := h.db.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %q not found", name)
	}
	return nil
}

// ListProfiles returns the stored profiles ordered by name.
func (h *History) ListProfiles() ([]ProfileInfo, error) {
	rows, err := h.db.Query(`
		SELECT name, description, tenant_id, output_dir, created_at, updated_at
		FROM profiles
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []ProfileInfo
	for rows.Next() {
		var p ProfileInfo
		var desc, tenant, outDir sql.NullString
		var created, updated string
		if err := rows.Scan(&p.Name, &desc, &tenant, &outDir, &created, &updated); err != nil {
			return nil, err
		}
		p.Description, p.TenantID, p.OutputDir = desc.String, tenant.String, outDir.String
		p.CreatedAt, _ = time.Parse(sqliteTime, created)
		p.UpdatedAt, _ = time.Parse(sqliteTime, updated)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// sealer encrypts profile configs with AES-256-GCM. The profile name is the
// additional data, so a sealed config cannot be moved to another name.
// Payload layout: version byte, nonce, ciphertext.
type sealer struct {
	aead cipher.AEAD
}

func newSealer() (*sealer, error) {
	raw := os.Getenv(masterKeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", masterKeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64-encoded: %w", masterKeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes (got %d)", masterKeyEnv, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(name string, plaintext []byte) ([]byte, error) {
	out := make([]byte, 1+s.aead.NonceSize(), 1+s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	out[0] = sealVersion
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(out, out[1:], plaintext, []byte(name)), nil
}

func (s *sealer) open(name string, payload []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(payload) < 1+n {
		return nil, errors.New("sealed profile is truncated")
	}
	if payload[0] != sealVersion {
		return nil, fmt.Errorf("unsupported profile seal version %d", payload[0])
	}
	plaintext, err := s.aead.Open(nil, payload[1:1+n], payload[1+n:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("decrypt profile %q: %w", name, err)
	}
	return plaintext, nil
}
