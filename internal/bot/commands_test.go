package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMention(t *testing.T) {
	assert.Equal(t, "123", parseMention("<@123>"))
	assert.Equal(t, "123", parseMention("<@!123>"))
	assert.Equal(t, "123", parseMention("123"))
}

func TestParseChannelOrRole(t *testing.T) {
	assert.Equal(t, "42", parseChannelOrRole("<#42>"))
	assert.Equal(t, "42", parseChannelOrRole("<@&42>"))
	assert.Equal(t, "42", parseChannelOrRole("42"))
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "ORD-1234", normalizeID(" ord-1234 "))
}

func TestSincePeriod(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	since, ok := sincePeriod("24h", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-24*time.Hour), since)

	since, ok = sincePeriod("7d", now)
	require.True(t, ok)
	assert.Equal(t, now.AddDate(0, 0, -7), since)

	since, ok = sincePeriod("all", now)
	require.True(t, ok)
	assert.True(t, since.IsZero())

	_, ok = sincePeriod("fortnight", now)
	assert.False(t, ok)
}

func TestParsePositiveInt(t *testing.T) {
	n, err := parsePositiveInt("3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = parsePositiveInt("0")
	assert.Error(t, err)
	_, err = parsePositiveInt("-2")
	assert.Error(t, err)
	_, err = parsePositiveInt("two")
	assert.Error(t, err)
}

func TestProductUpdateFor(t *testing.T) {
	upd, problem := productUpdateFor("name", "New Name")
	require.Empty(t, problem)
	require.NotNil(t, upd.Name)
	assert.Equal(t, "New Name", *upd.Name)

	upd, problem = productUpdateFor("ltc_price", "0.25")
	require.Empty(t, problem)
	require.NotNil(t, upd.PriceLTC)
	assert.Equal(t, "0.25", upd.PriceLTC.String())

	_, problem = productUpdateFor("ltc_price", "cheap")
	assert.NotEmpty(t, problem)

	_, problem = productUpdateFor("owner", "x")
	assert.NotEmpty(t, problem)
}
