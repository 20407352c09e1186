package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://www.baeldung.com", cfg.Site.BaseURL)
	assert.Equal(t, BrowserChromedp, cfg.Browser.Mode)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.Skip.IgnoreNewerThanWeeks)
	assert.Equal(t, 45*time.Second, cfg.NavigationTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.RenderWait())
	assert.Equal(t, "https://www.baeldung.com/learn-spring-course", cfg.CourseURL())
	assert.Equal(t, []string{"/tutorials/blob/master"}, cfg.Crawl.Patterns)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
site:
  base_url: https://blog.example.com/
  draft_host: draft.example.com
  selectors:
    content: main
runner:
  concurrency: 6
browser:
  mode: static
  nav_timeout_seconds: 10
proxy:
  host: 10.1.1.1
  port: "3128"
  username: eu
  password: secret
retry:
  max_attempts: 3
corpus:
  source: inline
  urls: ["/a", "/b"]
skip:
  ignore_newer_than_weeks: 4
  rules:
    "*":
      exclude_patterns: ["/tag/"]
    image-alt:
      disabled: true
    excerpt-description:
      ignore_newer_than_weeks: 8
vat:
  course_path: /course
report:
  format: json
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "draft.example.com", cfg.Site.DraftHost)
	assert.Equal(t, "main", cfg.Site.Selectors.Content)
	assert.Equal(t, 6, cfg.Runner.Concurrency)
	assert.Equal(t, BrowserStatic, cfg.Browser.Mode)
	assert.Equal(t, "3128", cfg.Proxy.Port)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Corpus.URLs)
	assert.Equal(t, 4, cfg.Skip.IgnoreNewerThanWeeks)
	require.Contains(t, cfg.Skip.Rules, "*")
	assert.Equal(t, []string{"/tag/"}, cfg.Skip.Rules["*"].ExcludePatterns)
	assert.True(t, cfg.Skip.Rules["image-alt"].Disabled)
	require.NotNil(t, cfg.Skip.Rules["excerpt-description"].IgnoreNewerThanWeeks)
	assert.Equal(t, 8, *cfg.Skip.Rules["excerpt-description"].IgnoreNewerThanWeeks)
	assert.Equal(t, "https://blog.example.com/course", cfg.CourseURL())
	assert.Equal(t, "json", cfg.Report.Format)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := map[string]func(c *Config){
		"base url":      func(c *Config) { c.Site.BaseURL = "" },
		"concurrency":   func(c *Config) { c.Runner.Concurrency = -1 },
		"browser mode":  func(c *Config) { c.Browser.Mode = "selenium" },
		"nav timeout":   func(c *Config) { c.Browser.NavTimeoutSeconds = 0 },
		"retry":         func(c *Config) { c.Retry.MaxAttempts = 0 },
		"rate":          func(c *Config) { c.RateLimit.PermitsPerSecond = -1 },
		"corpus file":   func(c *Config) { c.Corpus.Source = CorpusFile },
		"corpus inline": func(c *Config) { c.Corpus.Source = CorpusInline },
		"corpus source": func(c *Config) { c.Corpus.Source = "db" },
		"window":        func(c *Config) { c.Skip.IgnoreNewerThanWeeks = -1 },
		"proxy port":    func(c *Config) { c.Proxy.Host = "h" },
		"postgres":      func(c *Config) { c.Postgres.Enabled = true },
		"pubsub":        func(c *Config) { c.PubSub.ProjectID = "p" },
		"server port":   func(c *Config) { c.Server.Port = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
