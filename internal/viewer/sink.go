package viewer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FrameSink は受信したJPEGフレームの保存先
type FrameSink interface {
	WriteFrame(data []byte) error
}

// LatestFile は最新フレームを保存するファイル名
const LatestFile = "latest.jpg"

// DirSink はディレクトリにフレームを保存する
// latest.jpg を常に最新フレームで置き換え、KeepFrames が true なら連番ファイルも残す
type DirSink struct {
	dir        string
	keepFrames bool

	mu       sync.Mutex
	sequence int
}

// NewDirSink は新しいDirSinkを作成する。ディレクトリが無ければ作成する
func NewDirSink(dir string, keepFrames bool) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}
	return &DirSink{dir: dir, keepFrames: keepFrames}, nil
}

// WriteFrame はフレームを書き込む
func (s *DirSink) WriteFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++

	if s.keepFrames {
		name := filepath.Join(s.dir, fmt.Sprintf("frame_%06d.jpg", s.sequence))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return fmt.Errorf("フレームの保存に失敗: %w", err)
		}
	}

	// 読み手が途中のファイルを見ないように置き換える
	tmp := filepath.Join(s.dir, "."+LatestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("フレームの保存に失敗: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, LatestFile)); err != nil {
		return fmt.Errorf("フレームの保存に失敗: %w", err)
	}
	return nil
}

// Count は書き込んだフレーム数を返す
func (s *DirSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}
