// Package downloader loads the qBittorrent connection settings that live in
// the application's config.json under the "downloader" key.
package downloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid reports settings that failed validation.
var ErrInvalid = errors.New("downloader: invalid settings")

// Settings are the connection parameters for the qBittorrent WebUI.
type Settings struct {
	Host     string `json:"host" validate:"required"`
	SSL      bool   `json:"ssl"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type document struct {
	Downloader *Settings `json:"downloader"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Scheme is "https" when SSL is set, otherwise "http".
func (s Settings) Scheme() string {
	if s.SSL {
		return "https"
	}
	return "http"
}

// BaseURL joins the scheme and host; a scheme already present in Host is replaced.
func (s Settings) BaseURL() string {
	host := strings.TrimSpace(s.Host)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimRight(host, "/")
	return s.Scheme() + "://" + host
}

// Validate checks required fields.
func (s Settings) Validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Load reads and validates the downloader section of the document at path.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("downloader: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a config.json payload.
func Parse(data []byte) (Settings, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("downloader: decode: %w", err)
	}
	if doc.Downloader == nil {
		return Settings{}, fmt.Errorf("%w: missing downloader section", ErrInvalid)
	}
	s := *doc.Downloader
	s.Host = strings.TrimSpace(s.Host)
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
