package maps

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// LoadData reads the map file from mapDir so it can be served to
// downloaders. A descriptor without size or info takes them from the file;
// a descriptor whose size or info disagrees with the file is rejected.
func (m *Map) LoadData(mapDir string) error {
	if m.file == "" {
		return fmt.Errorf("%w: no map file configured for %s", ErrNoMapData, m.path)
	}
	path := filepath.Join(mapDir, filepath.Base(m.file))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read map file %s: %w", path, err)
	}
	if len(data) == 0 || uint64(len(data)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: map file %s has size %d", ErrInvalidMap, path, len(data))
	}

	size := uint32(len(data))
	info := crc32.ChecksumIEEE(data)
	if m.size != 0 && m.size != size {
		return fmt.Errorf("%w: map file %s is %d bytes, config says %d", ErrInvalidMap, path, size, m.size)
	}
	if m.info != 0 && m.info != info {
		return fmt.Errorf("%w: map file %s crc32 %08x, config says %08x", ErrInvalidMap, path, info, m.info)
	}
	m.size = size
	m.info = info
	m.data = data

	if m.crc == 0 || m.sha1 == nil {
		log.Warn().Str("map", m.path).Msg("map config has no crc or sha1, clients will fail the map check")
	}
	log.Info().
		Str("map", m.path).
		Uint32("size", size).
		Str("info", fmt.Sprintf("%08x", info)).
		Msg("map data loaded")
	return nil
}

// Part returns the map bytes starting at offset, at most n of them.
func (m *Map) Part(offset uint32, n int) ([]byte, error) {
	if len(m.data) == 0 {
		return nil, ErrNoMapData
	}
	if uint64(offset) >= uint64(len(m.data)) {
		return nil, nil
	}
	end := int(offset) + n
	if end > len(m.data) {
		end = len(m.data)
	}
	return m.data[offset:end], nil
}
