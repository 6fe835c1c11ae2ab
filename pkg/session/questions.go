package session

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultQuestions are the preset funnel questions asked in batch mode.
var DefaultQuestions = []string{
	"What is the overall funnel conversion rate?",
	"What is the biggest drop-off in the funnel?",
	"Who are the top 3 users in terms of time spent?",
	"What other products can we recommend to these top users?",
	"What are the top 5 electronic items sold?",
}

type questionsFile struct {
	Questions []string `yaml:"questions"`
}

// LoadQuestions reads a YAML file of the form:
//
//	questions:
//	  - What is the overall funnel conversion rate?
//
// Blank entries are skipped. A file with no questions is an error.
func LoadQuestions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read questions file: %w", err)
	}
	return ParseQuestions(data)
}

func ParseQuestions(data []byte) ([]string, error) {
	var f questionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse questions file: %w", err)
	}

	questions := make([]string, 0, len(f.Questions))
	for _, q := range f.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return nil, errors.New("questions file has no questions")
	}
	return questions, nil
}
