package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path"

	"github.com/batchsend/batchsend/internal/vault"
)

const XdgConfigHome = "XDG_CONFIG_HOME"
const ConfigFolderName = "batchsend"
const ConfigFileName = "config.json"
const KeyFileName = "secret.key"

// smtpProfile is the persisted SMTP profile. Password always holds the
// vault token, never plaintext.
type smtpProfile struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Email    string `json:"email"`
	Password string `json:"password"`
	UseTLS   bool   `json:"use_tls"`
	UseSSL   bool   `json:"use_ssl"`
}

func defaultProfile() smtpProfile {
	return smtpProfile{
		Server: "smtp.gmail.com",
		Port:   587,
		UseTLS: true,
		UseSSL: false,
	}
}

// DefaultConfigPath returns the config file location under the XDG config
// directory, creating the folder when missing.
func DefaultConfigPath() (string, error) {
	user, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("couldn't get current user: %w", err)
	}
	xdgConfigHome := os.Getenv(XdgConfigHome)
	var configFolder string
	if len(xdgConfigHome) == 0 {
		configFolder = path.Join(user.HomeDir, ".config", ConfigFolderName)
	} else {
		configFolder = path.Join(xdgConfigHome, ConfigFolderName)
	}
	if err := os.MkdirAll(configFolder, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return path.Join(configFolder, ConfigFileName), nil
}

// DefaultKeyPath is where the vault key lives, next to the config file.
func DefaultKeyPath(configPath string) string {
	return path.Join(path.Dir(configPath), KeyFileName)
}

// Store owns one profile file. Every mutation is persisted immediately with
// a full rewrite of the file.
type Store struct {
	path    string
	vault   *vault.Vault
	profile smtpProfile
}

// Load reads the profile at path, creating one with safe defaults and empty
// credentials when the file does not exist yet.
func Load(path string, v *vault.Vault) (*Store, error) {
	s := &Store{path: path, vault: v}
	if _, err := os.Stat(path); err != nil {
		// Only a genuinely missing file gets defaults; any other stat
		// failure must not end with the profile rewritten.
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checking config %s: %w", path, err)
		}
		s.profile = defaultProfile()
		if err := s.Save(); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile from disk, discarding in-memory state. The
// batch runner reloads before every job so configuration edits made during
// a long run are picked up (edits are not synchronized against a running
// batch).
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", s.path, err)
	}
	var p smtpProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing config %s: %w", s.path, err)
	}
	s.profile = p
	return nil
}

func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.profile, "", "	")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// Update replaces the profile fields and persists. An empty rawPassword
// keeps the stored token untouched, so editing other fields never blanks
// the password; a non-empty one is encrypted and replaces it.
func (s *Store) Update(server string, port int, email, rawPassword string, useTLS, useSSL bool) error {
	s.profile.Server = server
	s.profile.Port = port
	s.profile.Email = email
	s.profile.UseTLS = useTLS
	s.profile.UseSSL = useSSL
	if rawPassword != "" {
		token, err := s.vault.Encrypt(rawPassword)
		if err != nil {
			return fmt.Errorf("encrypting password: %w", err)
		}
		s.profile.Password = token
	}
	return s.Save()
}

func (s *Store) GetServer() string        { return s.profile.Server }
func (s *Store) GetPort() int             { return s.profile.Port }
func (s *Store) GetEmail() string         { return s.profile.Email }
func (s *Store) GetPasswordToken() string { return s.profile.Password }
func (s *Store) GetUseTLS() bool          { return s.profile.UseTLS }
func (s *Store) GetUseSSL() bool          { return s.profile.UseSSL }

// DecryptedPassword delegates to the vault; "" means no password configured.
func (s *Store) DecryptedPassword() string {
	return s.vault.Decrypt(s.profile.Password)
}
