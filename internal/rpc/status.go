package rpc

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	gopsutilcpu "github.com/shirou/gopsutil/v3/cpu"
	gopsutilmem "github.com/shirou/gopsutil/v3/mem"
	gopsutilproc "github.com/shirou/gopsutil/v3/process"

	"github.com/klingon-exchange/accountant/internal/accountant"
)

var processStart = time.Now()

// nodeStatus is the Administrator health surface: process CPU/mem/uptime,
// the way an operator dashboard polls a shard before deciding whether to
// route traffic away from it.
type nodeStatus struct {
	ShardNumber  int     `json:"shard_number"`
	NumShards    int     `json:"num_shards"`
	UptimeSecond float64 `json:"uptime_seconds"`
	CPUPercent   float64 `json:"cpu_percent"`
	RSSBytes     uint64  `json:"rss_bytes"`
	SystemMemPct float64 `json:"system_mem_used_percent"`
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	status := nodeStatus{
		ShardNumber:  s.cfg.ShardNumber,
		NumShards:    s.cfg.NumShards,
		UptimeSecond: time.Since(processStart).Seconds(),
	}

	if proc, err := gopsutilproc.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			status.CPUPercent = pct
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			status.RSSBytes = info.RSS
		}
	}
	if vm, err := gopsutilmem.VirtualMemory(); err == nil {
		status.SystemMemPct = vm.UsedPercent
	}
	_, _ = gopsutilcpu.Percent(0, false)

	writeJSON(w, status)
}

// handleReloadFeeGroup and handleReloadContract back the Administrator
// REST debug surface: an operator hits these directly from a browser or
// curl, rather than crafting a JSON-RPC envelope, to invalidate one
// cached catalog row after editing the fee/contract YAML on disk.
func (s *Server) handleReloadFeeGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.acc.ReloadFeeGroup(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReloadContract(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if err := s.acc.ReloadContract(ticker); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustPositionBody struct {
	Username string `json:"username"`
	Contract string `json:"contract"`
	Delta    int64  `json:"delta"`
}

func (s *Server) handleAdjustPosition(w http.ResponseWriter, r *http.Request) {
	var body adjustPositionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.acc.AdjustPosition(r.Context(), body.Username, body.Contract, body.Delta); err != nil {
		if err == accountant.ErrAdminDebugOnly {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
