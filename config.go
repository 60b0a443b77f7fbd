// Archive configuration and geometry validation.
//
// Zero values are resolved to defaults at open, so callers can pass
// Config{} and get a 4 KiB block archive backed by a private page pool.
package tsarc

// Config holds archive configuration options.
type Config struct {
	BlockSize  int               // Logical archive unit (default 4096, power of two)
	PageSize   int               // Pool page size (default BlockSize, multiple of BlockSize)
	Checksum   int               // 1=xxHash3, 2=Blake2b (header copy digests)
	Pool       *PagePool         // Page pool; nil allocates a private pool. Pass DefaultPool() to share.
	PoolPages  int               // Page budget for a private pool (default 256)
	SyncWrites bool              // fsync header slots individually during commit
	Metadata   map[string]string // Opaque metadata stored in the header (Create only)
}

// withDefaults resolves zero values. Geometry errors surface here, so
// Create fails before creating the file and Open fails after reading
// the header but before locking the file or building the archive.
//
// A nil Pool gets a private pool sized to PoolPages rather than the
// process-wide default: sharing the global pool couples unrelated
// archives through its pressure events, so it must be asked for.
func (c Config) withDefaults() (Config, error) {
	if c.BlockSize == 0 {
		c.BlockSize = 4096
	}
	if c.PageSize == 0 {
		c.PageSize = c.BlockSize
	}
	if c.Checksum == 0 {
		c.Checksum = ChecksumXXH3
	}
	if c.PoolPages == 0 {
		c.PoolPages = 256
	}

	if c.BlockSize < 512 || c.BlockSize&(c.BlockSize-1) != 0 {
		return c, ErrBlockSize
	}
	if c.PageSize%c.BlockSize != 0 {
		return c, ErrBlockSize
	}
	if c.Pool == nil {
		c.Pool = NewPagePool(c.PageSize, c.PoolPages)
	}
	if c.Pool.PageSize() != c.PageSize {
		return c, ErrBlockSize
	}
	return c, nil
}
