package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"disputeflow/consumer"
	"disputeflow/item"
)

// itemsFile is the offline input for plan and letter render.
type itemsFile struct {
	Profile consumer.Profile  `yaml:"profile"`
	Items   []item.CreditItem `yaml:"items"`
}

func loadItemsFile(path string) (itemsFile, error) {
	var f itemsFile
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range f.Items {
		if f.Items[i].ID == "" {
			f.Items[i].ID = fmt.Sprintf("item-%d", i+1)
		}
		if f.Items[i].OwnerID == "" {
			f.Items[i].OwnerID = f.Profile.ID
		}
		if f.Items[i].Status == "" {
			f.Items[i].Status = item.StatusActive
		}
		if err := item.Validate(f.Items[i]); err != nil {
			return f, fmt.Errorf("%s: item %d: %w", path, i+1, err)
		}
	}
	return f, nil
}

func (f itemsFile) find(id string) (item.CreditItem, error) {
	for _, it := range f.Items {
		if it.ID == id {
			return it, nil
		}
	}
	return item.CreditItem{}, fmt.Errorf("%w: %s", item.ErrNotFound, id)
}
