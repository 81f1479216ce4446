// Package runlog persists per-command run histories: one append-only,
// size-bounded, atomically-rewritten JSON file per command id.
//
// Each file is touched only by its command's worker, so the atomic-replace
// write is the only concurrency guard needed against external readers
// (e.g. a UI tailing the file).
package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	logx "trayrunner/pkg/logx"
)

// fileVersion is the current on-disk log schema.
const fileVersion = 1

type logFile struct {
	Version int     `json:"version"`
	Items   []Entry `json:"items"`
}

// Store reads and writes per-command log files under a single directory.
type Store struct {
	dir string
	log logx.Logger
}

func NewStore(dir string, log logx.Logger) *Store {
	return &Store{dir: dir, log: log}
}

func (s *Store) Dir() string { return s.dir }

// path maps a command id to its log file. The id is sanitized so a
// hostile or merely odd id cannot escape the log directory; ids that
// needed sanitizing get a hash suffix so distinct ids (e.g. "a/b" and
// "a-b") can never share a file.
func (s *Store) path(commandID string) string {
	name := sanitize(commandID)
	if name != commandID {
		h := fnv.New32a()
		_, _ = h.Write([]byte(commandID))
		name = fmt.Sprintf("%s-%08x", name, h.Sum32())
	}
	return filepath.Join(s.dir, name+".log.json")
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}

// Append upserts one entry (matched by uuid, so a RUNNING marker
// transitions in place to its terminal status), trims the history to the
// most recent maxCount entries in insertion order, and atomically replaces
// the file.
func (s *Store) Append(commandID string, maxCount int, e Entry) error {
	lf := s.load(commandID)

	replaced := false
	for i := range lf.Items {
		if lf.Items[i].UUID == e.UUID {
			lf.Items[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		lf.Items = append(lf.Items, e)
	}

	if maxCount < 1 {
		maxCount = 1
	}
	if len(lf.Items) > maxCount {
		// Oldest-inserted evicted first so file growth stays bounded
		// deterministically.
		lf.Items = lf.Items[len(lf.Items)-maxCount:]
	}

	return s.write(commandID, lf)
}

// Remove deletes the entry with the given uuid, if present. Used to retract
// a RUNNING marker when a run is aborted and must not count as completed.
func (s *Store) Remove(commandID, entryUUID string) error {
	lf := s.load(commandID)
	kept := lf.Items[:0]
	for _, it := range lf.Items {
		if it.UUID != entryUUID {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(lf.Items) {
		return nil
	}
	lf.Items = kept
	return s.write(commandID, lf)
}

// ReadAll returns the command's history in insertion order. A missing file
// is an empty history.
func (s *Store) ReadAll(commandID string) []Entry {
	return s.load(commandID).Items
}

// Last returns the most recently inserted entry.
func (s *Store) Last(commandID string) (Entry, bool) {
	items := s.load(commandID).Items
	if len(items) == 0 {
		return Entry{}, false
	}
	return items[len(items)-1], true
}

// load treats a missing file as an empty log. A corrupt or unreadable file
// is renamed aside as a backup first, so nothing is silently destroyed and
// the failure stays diagnosable; the log then restarts empty.
func (s *Store) load(commandID string) logFile {
	path := s.path(commandID)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return logFile{Version: fileVersion}
	}
	if err == nil {
		var lf logFile
		jsonErr := json.Unmarshal(b, &lf)
		if jsonErr == nil {
			migrateLog(&lf)
			return lf
		}
		err = jsonErr
	}

	backup := path + "-" + uuid.NewString()
	if mvErr := os.Rename(path, backup); mvErr != nil {
		s.log.Error("run log unreadable and backup failed",
			logx.String("path", path), logx.Err(err), logx.Any("backup_err", mvErr.Error()))
	} else {
		s.log.Error("run log unreadable; backed up and starting empty",
			logx.String("path", path), logx.String("backup", backup), logx.Err(err))
	}
	return logFile{Version: fileVersion}
}

// migrateLog upgrades older log files in place. v0 (no version tag) used
// the legacy "RUN" terminal status; it splits into SUCCESS/ERROR by exit code.
func migrateLog(lf *logFile) {
	if lf.Version >= fileVersion {
		return
	}
	for i := range lf.Items {
		if lf.Items[i].Status != "RUN" {
			continue
		}
		if lf.Items[i].ExitCode != nil && *lf.Items[i].ExitCode != 0 {
			lf.Items[i].Status = StatusError
		} else {
			lf.Items[i].Status = StatusSuccess
		}
	}
	lf.Version = fileVersion
}

// write atomically replaces the log file (temp file in the same directory,
// then rename), creating the directory lazily.
func (s *Store) write(commandID string, lf logFile) error {
	lf.Version = fileVersion
	path := s.path(commandID)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("runlog dir: %w", err)
	}

	b, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
