package kvdoc

// Option configures Open. Grounded on the teacher's ClientOptions struct
// (a single options value passed into NewClient, nil-checked and
// defaulted), generalized to the functional-options idiom so the option
// set can grow without breaking Open's signature — the one convention
// the wider retrieved pack converges on for constructor configuration.
type Option func(*openConfig)

type openConfig struct {
	dataDir   string
	batchSize int
}

const defaultBatchSize = 1000

func defaultOpenConfig() openConfig {
	return openConfig{batchSize: defaultBatchSize}
}

// WithDataDir sets the directory (or, for the bbolt backend, the file
// path) the underlying kvstore.Store persists to. Required unless a
// pre-opened kvstore.Store is supplied via OpenWithStore.
func WithDataDir(path string) Option {
	return func(c *openConfig) { c.dataDir = path }
}

// WithBatchSize overrides the number of Set/Delete operations batched
// into a single atomic commit during a view rebuild (spec.md §4.E's
// BATCH_SIZE, default ~1000).
func WithBatchSize(n int) Option {
	return func(c *openConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}
