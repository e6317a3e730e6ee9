package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReport_AllCodes(t *testing.T) {
	t.Parallel()

	r := Report{
		Stored:    []TroubleCodeEntry{{Kind: "stored", Code: "P0133"}},
		Permanent: []TroubleCodeEntry{{Kind: "permanent", Code: "P0171"}, {Kind: "permanent", Code: "U0155"}},
	}
	codes := r.AllCodes()
	assert.Equal(t, []string{"P0133", "P0171", "U0155"}, []string{codes[0].Code, codes[1].Code, codes[2].Code})
	assert.Empty(t, (&Report{}).AllCodes())
}
