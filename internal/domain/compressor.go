package domain

// Compressor turns a dump into its compressed artifact.
type Compressor interface {
	Compress(sourcePath, destPath string) error
}
