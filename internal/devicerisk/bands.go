package devicerisk

// riskBand maps a pre-append associated-account count to the score step
// applied when one more account joins the device.
type riskBand struct {
	maxAccounts int
	delta       int
}

// Ordered band table; the first band whose threshold covers the pre-append
// count wins. Kept as data so it stays independently testable and tunable.
var riskBands = []riskBand{
	{maxAccounts: 2, delta: 5},
	{maxAccounts: 5, delta: 15},
	{maxAccounts: 10, delta: 30},
}

const overflowDelta = 50

const (
	riskCap        = 100
	blockThreshold = 80
)

// riskDelta returns the score step for a device that had preCount associated
// accounts before the new association.
func riskDelta(preCount int) int {
	for _, band := range riskBands {
		if preCount <= band.maxAccounts {
			return band.delta
		}
	}
	return overflowDelta
}
