package params

const (
	DefaultFeeReductionDenominator = 20       // Bounds the reduction amount the various fees may have in Mive.
	DefaultBlockGasLimitMultiplier = 100      // Bounds the maximum gas limit a Mive block may have.
	DefaultMinBlockGasLimit        = 30000000 // Minimum gas limit for a Mive block.
)
