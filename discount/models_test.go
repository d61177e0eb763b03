package discount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRate(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		discount *Discount
		rate     string
	}{
		{"none", nil, "1"},
		{"inactive", &Discount{Percent: 30}, "1"},
		{"half", &Discount{Percent: 50, Active: true}, "0.5"},
		{"full", &Discount{Percent: 100, Active: true}, "0"},
		{"not started", &Discount{Percent: 50, Active: true, ValidFrom: &future}, "1"},
		{"expired", &Discount{Percent: 50, Active: true, ValidUntil: &past}, "1"},
		{"window", &Discount{Percent: 10, Active: true, ValidFrom: &past, ValidUntil: &future}, "0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rate, tt.discount.Rate(now).String())
		})
	}
}
