package session

import (
	"sort"

	"collabsync/pkg/storage"
)

// registry владеет открытыми сессиями: запись создаётся в Open и удаляется в Close.
// Сессии ссылаются друг на друга только по id.
type registry struct {
	sessions *storage.Engine[*Session]
}

func newRegistry() *registry {
	return &registry{sessions: storage.NewEngine[*Session](0)}
}

func (r *registry) add(s *Session) {
	r.sessions.Put(s.id, s)
}

func (r *registry) remove(id string) {
	r.sessions.Delete(id)
}

func (r *registry) size() int {
	return r.sessions.Len()
}

// byFile возвращает сессии файла, упорядоченные по id
func (r *registry) byFile(fileID string) []*Session {
	var out []*Session
	r.sessions.Range(func(_ string, s *Session) bool {
		if s.fileID == fileID {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *registry) all() []*Session {
	var out []*Session
	r.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}
