package validate

const (
	// MaxMaskSize bounds the cleanup mask upload.
	MaxMaskSize int64 = 10 * 1024 * 1024

	MinIDLen int = 1
	MaxIDLen int = 128

	MaxSourceRefLen int = 2048
)

var AllowedMaskContentTypes = map[string]bool{
	"image/png": true,
}
