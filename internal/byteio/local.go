package byteio

import "os"

// LocalFileSource is a Source backed by an already-open local file.
type LocalFileSource struct {
	f *os.File
}

func OpenLocalFile(path string) (*LocalFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &LocalFileSource{f: f}, nil
}

func (l *LocalFileSource) ReadAt(p []byte, off int64) (int, error) {
	return l.f.ReadAt(p, off)
}

func (l *LocalFileSource) Size() (int64, error) {
	info, err := l.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *LocalFileSource) Close() error {
	return l.f.Close()
}
