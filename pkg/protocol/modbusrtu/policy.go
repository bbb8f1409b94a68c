package modbusrtu

import (
	"harnscabinet/pkg/utils/binutil"
)

// SignedRange overrides the global signedness for register indices
// Start through End inclusive.
type SignedRange struct {
	Start  int  `json:"start"`
	End    int  `json:"end"`
	Signed bool `json:"signed"`
}

// ParsePolicy selects how register words become integers. The first
// matching range wins; otherwise Signed applies.
type ParsePolicy struct {
	Signed bool          `json:"signed"`
	Ranges []SignedRange `json:"ranges,omitempty"`
}

var (
	Unsigned = ParsePolicy{}
	Signed   = ParsePolicy{Signed: true}
)

func (p ParsePolicy) SignedAt(index int) bool {
	for _, r := range p.Ranges {
		if index >= r.Start && index <= r.End {
			return r.Signed
		}
	}
	return p.Signed
}

func (p ParsePolicy) Apply(words []uint16) []int {
	values := make([]int, len(words))
	for i, w := range words {
		if p.SignedAt(i) {
			values[i] = binutil.ToSigned16(w)
		} else {
			values[i] = int(w)
		}
	}
	return values
}
