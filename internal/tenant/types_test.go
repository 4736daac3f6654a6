package tenant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"acme", false},
		{"acme-corp", false},
		{"acme_corp_2", false},
		{"9lives", false},
		{"", true},
		{"Acme", true},
		{"acme corp", true},
		{"-acme", true},
		{"acme/../etc", true},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "acme", SanitizeID("acme"))
	assert.Equal(t, "acme_corp", SanitizeID("Acme Corp"))
	assert.Equal(t, "a-b_c", SanitizeID("a-b_c"))
	assert.Equal(t, "caf_", SanitizeID("Café"))
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "tenant_acme_documents", CollectionName("acme"))
	assert.Equal(t, "tenant_acme-corp_documents", CollectionName("acme-corp"))

	// Distinct tenants must never collide.
	assert.NotEqual(t, CollectionName("acme"), CollectionName("acme2"))
}

func TestConfigEnabledSpaceKeys(t *testing.T) {
	cfg := &Config{
		Spaces: []Space{
			{Key: "PROD", Enabled: true},
			{Key: "ENG", Enabled: false},
			{Key: "OPS", Enabled: true},
		},
	}
	assert.Equal(t, []string{"PROD", "OPS"}, cfg.EnabledSpaceKeys())
	assert.True(t, cfg.HasSpace("ENG"))
	assert.False(t, cfg.HasSpace("HR"))
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ID:         "acme",
			Confluence: ConfluenceConfig{BaseURL: "https://acme.atlassian.net/wiki"},
			Spaces:     []Space{{Key: "PROD", Enabled: true}},
			Index:      IndexConfig{Strategy: "simple"},
		}
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.ID = "Bad ID"
	assert.Error(t, c.Validate())

	c = valid()
	c.Confluence.BaseURL = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.Spaces = nil
	assert.Error(t, c.Validate())

	c = valid()
	c.Spaces[0].Key = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.Index.Strategy = "fancy"
	assert.Error(t, c.Validate())

	c = valid()
	c.Index.Strategy = "parent_document"
	assert.NoError(t, c.Validate())
}

func TestStateQueryable(t *testing.T) {
	st := NewState("acme")
	assert.Equal(t, ReadinessNeverBuilt, st.Readiness)
	assert.False(t, st.Queryable())

	// Ready without an index record is still not queryable.
	st.Readiness = ReadinessReady
	assert.False(t, st.Queryable())

	st.LastIndex = &IndexResult{Status: IndexStatusSuccess, Timestamp: time.Now()}
	assert.True(t, st.Queryable())

	st.Readiness = ReadinessBuilding
	assert.False(t, st.Queryable())

	st.Readiness = ReadinessFailed
	assert.False(t, st.Queryable())
}
