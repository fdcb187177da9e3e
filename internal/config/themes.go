package config

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultStoryThemes is used when no themes file is available.
var DefaultStoryThemes = []string{
	"森林探险", "海底世界", "太空旅行", "魔法学校", "动物运动会",
	"神秘岛屿", "恐龙时代", "童话王国", "超级英雄", "未来城市",
}

// StoryThemes is the list of themes the story workflow is prompted with.
type StoryThemes struct {
	Themes []string `yaml:"themes"`
}

// LoadStoryThemes reads the themes file. A missing file yields the defaults.
func LoadStoryThemes(path string) (StoryThemes, error) {
	if strings.TrimSpace(path) == "" {
		return StoryThemes{Themes: DefaultStoryThemes}, nil
	}
	// #nosec G304 -- path comes from operator configuration
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return StoryThemes{Themes: DefaultStoryThemes}, nil
	}
	if err != nil {
		return StoryThemes{}, fmt.Errorf("op=config.LoadStoryThemes: %w", err)
	}
	var st StoryThemes
	if err := yaml.Unmarshal(content, &st); err != nil {
		return StoryThemes{}, fmt.Errorf("op=config.LoadStoryThemes: failed to parse YAML: %w", err)
	}
	themes := st.Themes[:0]
	for _, t := range st.Themes {
		if t = strings.TrimSpace(t); t != "" {
			themes = append(themes, t)
		}
	}
	if len(themes) == 0 {
		return StoryThemes{}, fmt.Errorf("op=config.LoadStoryThemes: no themes found in %s", path)
	}
	st.Themes = themes
	return st, nil
}

// Pick returns a random theme.
func (s StoryThemes) Pick() string {
	if len(s.Themes) == 0 {
		return DefaultStoryThemes[rand.IntN(len(DefaultStoryThemes))]
	}
	return s.Themes[rand.IntN(len(s.Themes))]
}
