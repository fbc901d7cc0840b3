package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahobbs/domainwatch/internal/probe"
)

func dnsResult(ip string) probe.Result {
	return probe.Result{ResolvedIP: ip, ResolveTimeMS: 1.23, Timestamp: time.Now().UTC()}
}

func TestMerge_PreservesUntouchedKeys(t *testing.T) {
	existing := Table{
		DNSKey("8.8.8.8", "a.example"): dnsResult("10.0.0.1"),
		DNSKey("8.8.8.8", "b.example"): dnsResult("10.0.0.2"),
	}
	updated := dnsResult("10.9.9.9")

	out := Merge(existing, []Update{{Key: DNSKey("8.8.8.8", "b.example"), Seq: 1, Result: updated}})

	require.Len(t, out, 2)
	assert.Equal(t, "10.0.0.1", out[DNSKey("8.8.8.8", "a.example")].ResolvedIP)
	assert.Equal(t, "10.9.9.9", out[DNSKey("8.8.8.8", "b.example")].ResolvedIP)

	// Inputs are untouched.
	assert.Equal(t, "10.0.0.2", existing[DNSKey("8.8.8.8", "b.example")].ResolvedIP)
}

func TestMerge_Idempotent(t *testing.T) {
	existing := Table{DNSKey("1.1.1.1", "a.example"): dnsResult("10.0.0.1")}
	updates := []Update{
		{Key: DNSKey("1.1.1.1", "a.example"), Seq: 1, Result: dnsResult("10.0.0.5")},
		{Key: DNSKey("1.1.1.1", "c.example"), Seq: 2, Result: dnsResult("10.0.0.6")},
	}

	once := Merge(existing, updates)
	twice := Merge(once, updates)
	assert.Equal(t, once, twice)
}

func TestMerge_LastWriteWinsBySequence(t *testing.T) {
	// Arrival order reversed: the higher sequence number must still win.
	updates := []Update{
		{Key: DNSKey("1.1.1.1", "a.example"), Seq: 7, Result: dnsResult("10.0.0.7")},
		{Key: DNSKey("1.1.1.1", "a.example"), Seq: 3, Result: dnsResult("10.0.0.3")},
	}

	out := Merge(Table{}, updates)
	assert.Equal(t, "10.0.0.7", out[DNSKey("1.1.1.1", "a.example")].ResolvedIP)
}

func TestMerge_NeverDeletes(t *testing.T) {
	existing := Table{TLSKey("a.example", 443): {Valid: true}}
	out := Merge(existing, nil)
	assert.Equal(t, existing, out)
}

func TestTLSKey_NormalizesDefaultPort(t *testing.T) {
	assert.Equal(t, TLSKey("a.example", 443), TLSKey("a.example", 0))
	assert.NotEqual(t, TLSKey("a.example", 443), TLSKey("a.example", 8443))
}
