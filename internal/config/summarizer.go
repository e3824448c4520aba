package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/llm"
	"github.com/MimeLyc/podharvest/pkg/file"
)

// Summarizer is the summarization service settings file (llm_config.json).
type Summarizer struct {
	ServerURL      string            `json:"server_url"`
	ModelName      string            `json:"model_name"`
	APIKey         string            `json:"api_key,omitempty"`
	Temperature    float64           `json:"temperature"`
	ContextLength  int               `json:"context_length"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	MaxRetries     int               `json:"max_retries"`
	RetryDelay     float64           `json:"retry_delay"`
	RequestTimeout int               `json:"request_timeout"`
	SystemPrompts  map[string]string `json:"system_prompts"`
}

// DefaultSummarizer returns the settings applied to absent fields.
func DefaultSummarizer() Summarizer {
	return Summarizer{
		Temperature:    0.7,
		ContextLength:  4096,
		MaxTokens:      1000,
		MaxRetries:     3,
		RetryDelay:     2,
		RequestTimeout: 60,
		SystemPrompts:  map[string]string{},
	}
}

func (s Summarizer) Validate() error {
	if strings.TrimSpace(s.ServerURL) == "" {
		return fmt.Errorf("server_url is required")
	}
	if strings.TrimSpace(s.ModelName) == "" {
		return fmt.Errorf("model_name is required")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	// the request needs room for the instruction and the reply
	if s.ContextLength <= 1100 {
		return fmt.Errorf("context_length must be greater than 1100")
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative")
	}
	if s.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1")
	}
	for _, role := range []string{"chunk", "final"} {
		if strings.TrimSpace(s.SystemPrompts[role]) == "" {
			return fmt.Errorf("system_prompts.%s is required", role)
		}
	}
	return nil
}

// RetryWait is retry_delay as a duration.
func (s Summarizer) RetryWait() time.Duration {
	return time.Duration(s.RetryDelay * float64(time.Second))
}

// LLMConfig maps the settings onto the chat client configuration.
func (s Summarizer) LLMConfig() *llm.Config {
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &llm.Config{
		APIKey:      s.APIKey,
		APIURL:      strings.TrimRight(s.ServerURL, "/"),
		Model:       s.ModelName,
		MaxTokens:   maxTokens,
		Temperature: s.Temperature,
		Timeout:     s.RequestTimeout,
	}
}

// Clone returns a copy that shares no map with s.
func (s Summarizer) Clone() Summarizer {
	if s.SystemPrompts != nil {
		prompts := make(map[string]string, len(s.SystemPrompts))
		for role, prompt := range s.SystemPrompts {
			prompts[role] = prompt
		}
		s.SystemPrompts = prompts
	}
	return s
}

// Redacted hides the API key for API responses and logs.
func (s Summarizer) Redacted() Summarizer {
	if s.APIKey != "" {
		s.APIKey = "***"
	}
	return s
}

func LoadSummarizerFile(path string) (Summarizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summarizer{}, apperr.Wrap(err, apperr.ErrConfig, "cannot read summarizer settings").WithContext("path", path)
	}
	settings := DefaultSummarizer()
	if err := json.Unmarshal(data, &settings); err != nil {
		return Summarizer{}, apperr.Wrap(err, apperr.ErrConfig, "invalid summarizer settings file").WithContext("path", path)
	}
	if err := settings.Validate(); err != nil {
		return Summarizer{}, apperr.Wrap(err, apperr.ErrConfig, "invalid summarizer settings").WithContext("path", path)
	}
	return settings, nil
}

func WriteSummarizerFile(path string, settings Summarizer) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return file.WriteJSONAtomic(path, settings)
}

// SummarizerStore keeps the current settings and persists updates.
type SummarizerStore struct {
	path string

	mu      sync.RWMutex
	current Summarizer
}

func NewSummarizerStore(path string, initial Summarizer) (*SummarizerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &SummarizerStore{
		path:    path,
		current: initial.Clone(),
	}, nil
}

func (s *SummarizerStore) Get() Summarizer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update validates and writes next, then makes it current. An empty or
// redacted API key keeps the stored one.
func (s *SummarizerStore) Update(next Summarizer) (Summarizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.APIKey == "" || next.APIKey == "***" {
		next.APIKey = s.current.APIKey
	}
	if err := WriteSummarizerFile(s.path, next); err != nil {
		return Summarizer{}, err
	}
	s.current = next.Clone()
	return next, nil
}
