// Package accounts supplies per-account risk policies from a yaml file.
package accounts

import (
	"context"
	"fmt"
	"os"

	"github.com/manojd/signal_bridge/internal/domain"
	"gopkg.in/yaml.v3"
)

// YAMLProvider implements domain.AccountConfigProvider by re-reading the
// policy file on every call, so edits take effect without a restart.
// Caching is the caller's concern, not this layer's.
type YAMLProvider struct {
	path string
}

func NewYAMLProvider(path string) *YAMLProvider {
	return &YAMLProvider{path: path}
}

type accountsFile struct {
	Accounts []domain.AccountPolicy `yaml:"accounts"`
}

func (p *YAMLProvider) GetAccounts(ctx context.Context, activeOnly bool) ([]domain.AccountPolicy, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer f.Close()

	var doc accountsFile
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}

	if !activeOnly {
		return doc.Accounts, nil
	}

	active := make([]domain.AccountPolicy, 0, len(doc.Accounts))
	for _, a := range doc.Accounts {
		if a.IsActive {
			active = append(active, a)
		}
	}
	return active, nil
}
