package config

// Provider defines the interface for SMTP profile access
type Provider interface {
	GetServer() string
	GetPort() int
	GetEmail() string
	GetPasswordToken() string
	GetUseTLS() bool
	GetUseSSL() bool
	DecryptedPassword() string
	Reload() error
}

var _ Provider = (*Store)(nil)
