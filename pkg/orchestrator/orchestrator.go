package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samogod/trainconf/pkg/config"
	"github.com/samogod/trainconf/pkg/database"
	"github.com/samogod/trainconf/pkg/schema"
	"github.com/samogod/trainconf/pkg/session"

	"github.com/sirupsen/logrus"
)

var DebugLog func(string, ...interface{})

type Orchestrator struct {
	config        *config.Config
	configManager *config.Manager
	logger        *logrus.Logger
	db            *database.DB
	session       *session.Session
}

type CheckOptions struct {
	Path          string
	Checks        string
	ExcludeChecks string
	Strict        bool
}

type CheckStat struct {
	Name     string
	Duration time.Duration
	Warnings int
}

type CheckResult struct {
	Path       string
	Name       string
	Digest     string
	Config     *schema.TrainingConfig
	Warnings   []schema.ConfigWarning
	CheckStats []CheckStat
	Err        error
	Duration   time.Duration
	Valid      bool
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var levelText string
	switch entry.Level {
	case logrus.InfoLevel:
		levelText = "[INF]"
	case logrus.WarnLevel:
		levelText = "[WARN]"
	case logrus.ErrorLevel:
		levelText = "[ERR]"
	case logrus.DebugLevel:
		levelText = "[DBG]"
	default:
		levelText = "[???]"
	}
	return []byte(fmt.Sprintf("%s %s\n", levelText, entry.Message)), nil
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&customFormatter{})
	return logger
}

func NewOrchestrator(configPath string) (*Orchestrator, error) {
	logger := newLogger()

	configManager := config.NewManager(configPath)
	if err := configManager.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := configManager.GetConfig()

	sess, err := session.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		logger.Warnf("Database initialization failed: %v", err)
	}

	return &Orchestrator{
		config:        cfg,
		configManager: configManager,
		logger:        logger,
		db:            db,
		session:       sess,
	}, nil
}

func (o *Orchestrator) GetConfig() *config.Config {
	return o.config
}

func (o *Orchestrator) GetDB() *database.DB {
	return o.db
}

func (o *Orchestrator) GetSession() *session.Session {
	return o.session
}

func (o *Orchestrator) Close() error {
	if o.db != nil {
		return o.db.Close()
	}
	return nil
}

// SelectChecks resolves which advisory checks run. An explicit selection
// wins over exclusions; the settings' disabled_checks apply only when
// nothing was selected.
func SelectChecks(logger *logrus.Logger, selected, excluded string, disabled []string) []string {
	all := schema.CheckNames()

	if selected != "" && excluded != "" {
		logger.Warn("Both -checks and -ec flags specified. Using -checks and ignoring exclusions.")
		excluded = ""
	}

	if selected != "" {
		var names []string
		seen := make(map[string]bool)
		for _, name := range splitList(selected) {
			c, ok := schema.LookupCheck(name)
			if !ok {
				logger.Warnf("Unknown check: %s", name)
				continue
			}
			if !seen[c.Name] {
				seen[c.Name] = true
				names = append(names, c.Name)
			}
		}
		if len(names) == 0 {
			logger.Warn("No valid checks specified, using all checks")
			return all
		}
		return names
	}

	skip := make(map[string]bool)
	for _, name := range append(splitList(excluded), disabled...) {
		name = strings.TrimSpace(strings.ToLower(name))
		if _, ok := schema.LookupCheck(name); !ok {
			logger.Warnf("Unknown check: %s", name)
			continue
		}
		skip[name] = true
	}

	names := make([]string, 0, len(all))
	for _, name := range all {
		if !skip[name] {
			names = append(names, name)
		}
	}
	return names
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ConfigName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RunCheck loads, parses and validates one training document. A document
// that fails to parse is reported through CheckResult.Err, not the
// returned error, which is reserved for failures outside the document.
func (o *Orchestrator) RunCheck(options CheckOptions) (*CheckResult, error) {
	startTime := time.Now()

	result := &CheckResult{
		Path: options.Path,
		Name: ConfigName(options.Path),
	}

	data, err := os.ReadFile(options.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	result.Digest = digest(data)

	if DebugLog != nil {
		DebugLog("checking %s (%s)", options.Path, result.Digest[:12])
	}

	cfg, err := schema.ParseDocument(data)
	if err != nil {
		result.Err = err
	} else {
		result.Config = cfg

		strict := options.Strict || o.config.DefaultSettings.Strict
		names := SelectChecks(o.logger, options.Checks, options.ExcludeChecks, o.config.DefaultSettings.DisabledChecks)
		for _, name := range names {
			check, _ := schema.LookupCheck(name)
			checkStart := time.Now()
			warnings := check.Run(cfg)
			result.Warnings = append(result.Warnings, warnings...)
			result.CheckStats = append(result.CheckStats, CheckStat{
				Name:     check.Name,
				Duration: time.Since(checkStart),
				Warnings: len(warnings),
			})
			if DebugLog != nil {
				DebugLog("check %s produced %d warnings", check.Name, len(warnings))
			}
		}

		result.Valid = !strict || len(result.Warnings) == 0
	}

	result.Duration = time.Since(startTime)

	if o.db.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), o.config.Timeout())
		defer cancel()

		if err := o.db.TrackRun(ctx, o.runRecord(result)); err != nil {
			o.logger.Warnf("Failed to track run in database: %v", err)
		}
	}

	return result, nil
}

func (o *Orchestrator) runRecord(r *CheckResult) database.RunRecord {
	path, err := filepath.Abs(r.Path)
	if err != nil {
		path = r.Path
	}

	rec := database.RunRecord{
		Name:     r.Name,
		Path:     path,
		Digest:   r.Digest,
		Warnings: len(r.Warnings),
		Status:   database.StatusFor(r.Valid, len(r.Warnings)),
	}
	if r.Config != nil {
		rec.MaxSteps = r.Config.RunConfig.MaxSteps
		rec.ScheduleSteps = r.Config.Optimizer.TotalSteps()
	}
	return rec
}
