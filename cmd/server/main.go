// Command server exposes a database over HTTP, mirroring the original
// implementation's bin/btree_server route table and JSON shapes.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/intellect4all/btreestore/btree"
)

const defaultDBPath = "/tmp/btree_viz.db"

// appState holds the single open database plus the cosmetic BTreeConfig
// carried only for response-shape parity with the original server; the
// engine itself has no fixed-fanout knobs, see SPEC_FULL.md §12.
type appState struct {
	mu       sync.RWMutex
	db       *btree.BTree
	path     string
	leafKeys int
	intKeys  int
	logger   *zap.Logger
}

type operationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type createDBRequest struct {
	Path            *string `json:"path"`
	MaxLeafKeys     *int    `json:"maxLeafKeys"`
	MaxInteriorKeys *int    `json:"maxInteriorKeys"`
}

type putRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type getResponse struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
	Found bool    `json:"found"`
}

type configResponse struct {
	MaxLeafKeys     int `json:"maxLeafKeys"`
	MaxInteriorKeys int `json:"maxInteriorKeys"`
}

type statsResponse struct {
	PageCount      int            `json:"pageCount"`
	BufferPoolSize int            `json:"bufferPoolSize"`
	TreeHeight     int            `json:"treeHeight"`
	BtreeConfig    configResponse `json:"btreeConfig"`
}

type treeResponse struct {
	Tree  *btree.TreeNode  `json:"tree"`
	Stats *statsResponse   `json:"stats"`
}

type bulkInsertRequest struct {
	Pairs []putRequest `json:"pairs"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *appState) createDB(w http.ResponseWriter, r *http.Request) {
	var req createDBRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional

	path := defaultDBPath
	if req.Path != nil {
		path = *req.Path
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.MaxLeafKeys != nil {
		s.leafKeys = max(*req.MaxLeafKeys, 2)
	}
	if req.MaxInteriorKeys != nil {
		s.intKeys = max(*req.MaxInteriorKeys, 2)
	}

	if s.db != nil {
		_ = s.db.Close()
	}
	_ = afero.NewOsFs().Remove(path)

	db, err := btree.Open(btree.DefaultConfig(path))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, operationResponse{Success: false, Message: "Failed to open database: " + err.Error()})
		return
	}
	s.db = db
	s.path = path
	writeJSON(w, http.StatusOK, operationResponse{Success: true, Message: "Database opened at " + path})
}

func (s *appState) closeDB(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		writeJSON(w, http.StatusOK, operationResponse{Success: false, Message: "No database open"})
		return
	}
	_ = s.db.Flush()
	_ = s.db.Close()
	s.db = nil
	writeJSON(w, http.StatusOK, operationResponse{Success: true, Message: "Database closed"})
}

func (s *appState) getConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeJSON(w, http.StatusOK, configResponse{MaxLeafKeys: s.leafKeys, MaxInteriorKeys: s.intKeys})
}

func (s *appState) setConfig(w http.ResponseWriter, r *http.Request) {
	var req createDBRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.MaxLeafKeys != nil {
		s.leafKeys = max(*req.MaxLeafKeys, 2)
	}
	if req.MaxInteriorKeys != nil {
		s.intKeys = max(*req.MaxInteriorKeys, 2)
	}
	writeJSON(w, http.StatusOK, operationResponse{Success: true, Message: "Config updated"})
}

func (s *appState) withDB(w http.ResponseWriter, fn func(db *btree.BTree) (interface{}, int, error)) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	if db == nil {
		writeJSON(w, http.StatusBadRequest, operationResponse{Success: false, Message: "No database open"})
		return
	}
	body, status, err := fn(db)
	if err != nil {
		writeJSON(w, status, operationResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, status, body)
}

func (s *appState) getValue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.withDB(w, func(db *btree.BTree) (interface{}, int, error) {
		value, found, err := db.Get([]byte(key))
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		resp := getResponse{Key: key, Found: found}
		if found {
			s := string(value)
			resp.Value = &s
		}
		return resp, http.StatusOK, nil
	})
}

func (s *appState) putValue(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, operationResponse{Success: false, Message: "invalid request body"})
		return
	}
	s.withDB(w, func(db *btree.BTree) (interface{}, int, error) {
		if err := db.Put([]byte(req.Key), []byte(req.Value)); err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return operationResponse{Success: true, Message: "Inserted key '" + req.Key + "'"}, http.StatusOK, nil
	})
}

func (s *appState) deleteValue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.withDB(w, func(db *btree.BTree) (interface{}, int, error) {
		deleted, err := db.Delete([]byte(key))
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		msg := "Key '" + key + "' not found"
		if deleted {
			msg = "Deleted key '" + key + "'"
		}
		return operationResponse{Success: true, Message: msg}, http.StatusOK, nil
	})
}

func (s *appState) listKeys(w http.ResponseWriter, r *http.Request) {
	s.withDB(w, func(db *btree.BTree) (interface{}, int, error) {
		pairs, err := db.Iter()
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		keys := make([]string, 0, len(pairs))
		for _, kv := range pairs {
			keys = append(keys, string(kv.Key))
		}
		return keys, http.StatusOK, nil
	})
}

func (s *appState) statsResponseLocked(db *btree.BTree) statsResponse {
	stats := db.Stats()
	return statsResponse{
		PageCount:      stats.PageCount,
		BufferPoolSize: stats.BufferPoolSize,
		TreeHeight:     stats.TreeHeight,
		BtreeConfig:    configResponse{MaxLeafKeys: s.leafKeys, MaxInteriorKeys: s.intKeys},
	}
}

func (s *appState) getTree(w http.ResponseWriter, r *http.Request) {
	s.withDB(w, func(db *btree.BTree) (interface{}, int, error) {
		tree, err := db.ExportTree()
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		s.mu.RLock()
		stats := s.statsResponseLocked(db)
		s.mu.RUnlock()
		return treeResponse{Tree: tree, Stats: &stats}, http.StatusOK, nil
	})
}

func (s *appState) getStats(w http.ResponseWriter, r *http.Request) {
	s.withDB(w, func(db *btree.BTree) (interface{}, int, error) {
		s.mu.RLock()
		stats := s.statsResponseLocked(db)
		s.mu.RUnlock()
		return stats, http.StatusOK, nil
	})
}

func (s *appState) clearDB(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	path := defaultDBPath
	if s.path != "" {
		path = s.path
	}
	_ = afero.NewOsFs().Remove(path)

	db, err := btree.Open(btree.DefaultConfig(path))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, operationResponse{Success: false, Message: "Failed to clear database: " + err.Error()})
		return
	}
	s.db = db
	s.path = path
	writeJSON(w, http.StatusOK, operationResponse{Success: true, Message: "Database cleared"})
}

func (s *appState) bulkInsert(w http.ResponseWriter, r *http.Request) {
	var req bulkInsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, operationResponse{Success: false, Message: "invalid request body"})
		return
	}
	s.withDB(w, func(db *btree.BTree) (interface{}, int, error) {
		count := 0
		for _, pair := range req.Pairs {
			if err := db.Put([]byte(pair.Key), []byte(pair.Value)); err != nil {
				return nil, http.StatusInternalServerError, fmt.Errorf("bulk insert failed at key %q: %w", pair.Key, err)
			}
			count++
		}
		return operationResponse{Success: true, Message: fmt.Sprintf("Inserted %d key-value pairs", count)}, http.StatusOK, nil
	})
}

func newRouter(state *appState) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/db", state.createDB)
		r.Delete("/db", state.closeDB)
		r.Get("/config", state.getConfig)
		r.Post("/config", state.setConfig)
		r.Get("/kv/{key}", state.getValue)
		r.Post("/kv", state.putValue)
		r.Delete("/kv/{key}", state.deleteValue)
		r.Get("/keys", state.listKeys)
		r.Get("/tree", state.getTree)
		r.Get("/stats", state.getStats)
		r.Post("/clear", state.clearDB)
		r.Post("/bulk", state.bulkInsert)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loadConfig() (addr string) {
	pflag.String("addr", "0.0.0.0:3001", "address to listen on")
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("BTREE_SERVER")
	v.AutomaticEnv()
	_ = v.BindPFlag("addr", pflag.Lookup("addr"))
	v.SetConfigName("btree-server")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional config file; absence is not an error

	return v.GetString("addr")
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	addr := loadConfig()

	state := &appState{leafKeys: 4, intKeys: 4, logger: logger}

	logger.Info("btree server listening",
		zap.String("addr", addr),
		zap.Strings("endpoints", []string{
			"POST   /api/db", "DELETE /api/db",
			"GET    /api/config", "POST   /api/config",
			"GET    /api/kv/{key}", "POST   /api/kv", "DELETE /api/kv/{key}",
			"GET    /api/keys", "GET    /api/tree", "GET    /api/stats",
			"POST   /api/clear", "POST   /api/bulk",
		}),
	)

	if err := http.ListenAndServe(addr, newRouter(state)); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
