package main

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

// seedProduct lists explicit keys, generated keys, or both. Generated keys
// follow the explicit ones.
type seedProduct struct {
	ProductID string   `yaml:"product_id"`
	Keys      []string `yaml:"keys"`
	Prefix    string   `yaml:"prefix"`
	Count     int      `yaml:"count"`
}

func (p seedProduct) allKeys() []string {
	keys := make([]string, 0, len(p.Keys)+p.Count)
	keys = append(keys, p.Keys...)
	for i := 1; i <= p.Count; i++ {
		keys = append(keys, fmt.Sprintf("%s-%06d", p.Prefix, i))
	}
	return keys
}

func parseSeed(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(seed.Products) == 0 {
		return nil, errors.New("seed file lists no products")
	}

	var errs []error
	seen := make(map[string]bool, len(seed.Products))
	for i, p := range seed.Products {
		switch {
		case p.ProductID == "":
			errs = append(errs, fmt.Errorf("products[%d]: product_id is required", i))
			continue
		case seen[p.ProductID]:
			errs = append(errs, fmt.Errorf("products[%d]: duplicate product_id %q", i, p.ProductID))
		case p.Count < 0:
			errs = append(errs, fmt.Errorf("products[%d]: count must not be negative", i))
		case p.Count > 0 && p.Prefix == "":
			errs = append(errs, fmt.Errorf("products[%d]: count requires a prefix", i))
		}
		seen[p.ProductID] = true

		keys := make(map[string]bool, len(p.Keys))
		for _, k := range p.Keys {
			if k == "" {
				errs = append(errs, fmt.Errorf("products[%d]: empty key", i))
				continue
			}
			if keys[k] {
				errs = append(errs, fmt.Errorf("products[%d]: duplicate key %q", i, k))
			}
			keys[k] = true
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &seed, nil
}
