package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ecoloop/ecoloop-server/internal/models"
)

// Catalog loads and serves the static level content: video, recap, quiz
// questions and the real-world task. Levels are read-only for the lifetime
// of the engine.
type Catalog struct {
	mu     sync.RWMutex
	levels map[int]*models.Level
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{levels: make(map[int]*models.Level)}
}

// LoadFromDir loads all YAML level files from a directory.
func (c *Catalog) LoadFromDir(dir string) error {
	slog.Info("loading level catalog", "dir", dir)

	patterns := []string{"*.yaml", "*.yml"}
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}

	loaded := 0
	for _, file := range files {
		if err := c.LoadFromFile(file); err != nil {
			slog.Warn("failed to load level", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("level catalog loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single level from a YAML file.
func (c *Catalog) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var lf levelFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	level, err := lf.toLevel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.levels[level.ID] = level
	c.mu.Unlock()

	slog.Info("level loaded", "id", level.ID, "title", level.Title, "theme", level.Theme, "questions", len(level.Questions))
	return nil
}

// Level retrieves a level by id.
func (c *Catalog) Level(id int) (*models.Level, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	level, ok := c.levels[id]
	return level, ok
}

// List returns all levels ordered by id.
func (c *Catalog) List() []*models.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*models.Level, 0, len(c.levels))
	for _, level := range c.levels {
		result = append(result, level)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Add programmatically adds a level.
func (c *Catalog) Add(level *models.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels[level.ID] = level
}

// --- YAML file structs ---

// levelFile represents the YAML structure of a level file.
type levelFile struct {
	ID          int    `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Theme       string `yaml:"theme"`
	XPReward    int    `yaml:"xp_reward"`
	VideoID     string `yaml:"video_id"`
	Info        string `yaml:"info"`
	Task        struct {
		Description string `yaml:"description"`
		Tag         string `yaml:"tag"`
	} `yaml:"task"`
	Questions []questionFile `yaml:"questions"`
}

// questionFile represents one quiz question in a level file.
type questionFile struct {
	Text         string   `yaml:"text"`
	Options      []string `yaml:"options"`
	CorrectIndex int      `yaml:"correct_index"`
	Difficulty   int      `yaml:"difficulty"`
}

func (lf *levelFile) toLevel() (*models.Level, error) {
	if lf.ID < 1 {
		return nil, fmt.Errorf("level id must be positive, got %d", lf.ID)
	}
	if lf.Title == "" {
		return nil, fmt.Errorf("level %d: title is required", lf.ID)
	}
	theme := models.Theme(lf.Theme)
	if !theme.IsValid() {
		return nil, fmt.Errorf("level %d: unknown theme %q", lf.ID, lf.Theme)
	}
	if lf.XPReward < 0 {
		return nil, fmt.Errorf("level %d: xp_reward must be non-negative", lf.ID)
	}

	questions := make([]models.Question, 0, len(lf.Questions))
	for i, qf := range lf.Questions {
		if len(qf.Options) < 2 {
			return nil, fmt.Errorf("level %d question %d: at least two options required", lf.ID, i)
		}
		if qf.CorrectIndex < 0 || qf.CorrectIndex >= len(qf.Options) {
			return nil, fmt.Errorf("level %d question %d: correct_index %d out of range", lf.ID, i, qf.CorrectIndex)
		}
		difficulty := qf.Difficulty
		if difficulty < 1 {
			difficulty = 1
		}
		questions = append(questions, models.Question{
			Text:         qf.Text,
			Options:      qf.Options,
			CorrectIndex: qf.CorrectIndex,
			Difficulty:   difficulty,
		})
	}

	return &models.Level{
		ID:              lf.ID,
		Title:           lf.Title,
		Description:     lf.Description,
		Theme:           theme,
		XPReward:        lf.XPReward,
		VideoID:         lf.VideoID,
		InfoContent:     lf.Info,
		TaskDescription: lf.Task.Description,
		TaskTag:         lf.Task.Tag,
		Questions:       questions,
	}, nil
}
