// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func TestSearchParamsValidate(t *testing.T) {
	valid := store.SearchParams{Question: "how does ingestion work?", Limit: 10, SimilarityThreshold: 0.5}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*store.SearchParams)
	}{
		{"blank question", func(p *store.SearchParams) { p.Question = "   \n\t" }},
		{"zero limit", func(p *store.SearchParams) { p.Limit = 0 }},
		{"negative limit", func(p *store.SearchParams) { p.Limit = -3 }},
		{"limit above cap", func(p *store.SearchParams) { p.Limit = store.MaxSearchLimit + 1 }},
		{"threshold below zero", func(p *store.SearchParams) { p.SimilarityThreshold = -0.1 }},
		{"threshold above one", func(p *store.SearchParams) { p.SimilarityThreshold = 1.01 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			assert.Error(t, err)
			assert.True(t, raglineerr.HasCode(err, raglineerr.CodeQueryRequestInvalid))
		})
	}

	t.Run("limit at cap", func(t *testing.T) {
		p := valid
		p.Limit = store.MaxSearchLimit
		assert.NoError(t, p.Validate())
	})

	t.Run("threshold bounds inclusive", func(t *testing.T) {
		p := valid
		p.SimilarityThreshold = 0
		assert.NoError(t, p.Validate())
		p.SimilarityThreshold = 1
		assert.NoError(t, p.Validate())
	})
}

func TestDistanceValid(t *testing.T) {
	assert.True(t, store.DistanceCosine.Valid())
	assert.True(t, store.DistanceEuclidean.Valid())
	assert.True(t, store.DistanceInnerProduct.Valid())
	assert.False(t, store.Distance("manhattan").Valid())
	assert.False(t, store.Distance("").Valid())
}
