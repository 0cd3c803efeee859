package pmago

// Close releases the memory held by the index, including any rewired
// mappings. The index must not be used afterwards. It is idempotent.
func (idx *Index) Close() error {
	if idx == nil {
		return nil
	}
	return idx.core.Close()
}
