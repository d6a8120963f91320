// Package blackboard implements the per-run shared JSON document swarm
// agents coordinate through (spec §4.6): a single-writer discipline enforced
// by an exclusive lock file, append-only findings/messages/task_queue,
// claim chains over file sets, and a break-glass TTL for crashed lock
// holders.
package blackboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/ident"
)

const (
	lockBreakGlassTTL = 2 * time.Minute
	defaultChainTTL   = 10 * time.Minute
)

// AgentState enumerates blackboard agent states (spec §3).
type AgentState string

const (
	AgentActive    AgentState = "active"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
	AgentStale     AgentState = "stale"
)

// ChainStatus enumerates claim-chain states.
type ChainStatus string

const (
	ChainActive    ChainStatus = "active"
	ChainCompleted ChainStatus = "completed"
	ChainExpired   ChainStatus = "expired"
	ChainReleased  ChainStatus = "released"
)

type Agent struct {
	Task        string     `json:"task"`
	State       AgentState `json:"state"`
	HeartbeatAt time.Time  `json:"heartbeat_at"`
	Interests   []string   `json:"interests"`
	Cursor      int        `json:"cursor"`
}

type Finding struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Kind       string    `json:"kind"`
	Content    string    `json:"content"`
	Files      []string  `json:"files"`
	Importance string    `json:"importance"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
}

type Chain struct {
	AgentID   string      `json:"agent_id"`
	Files     []string    `json:"files"`
	Reason    string      `json:"reason"`
	ClaimedAt time.Time   `json:"claimed_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Status    ChainStatus `json:"status"`
}

// Document is the full blackboard record (spec §3 "Blackboard record").
type Document struct {
	RunID       string             `json:"run_id"`
	Agents      map[string]*Agent  `json:"agents"`
	Findings    []Finding          `json:"findings"`
	Messages    []string           `json:"messages"`
	TaskQueue   []string           `json:"task_queue"`
	Questions   []string           `json:"questions"`
	ClaimChains map[string]*Chain `json:"claim_chains"`
}

// Board is a handle to one run's blackboard file on disk.
type Board struct {
	path     string
	lockPath string
	runID    string
}

// Create makes a fresh blackboard file for runID under root (exclusive
// create, per spec §4.5 swarm step 1).
func Create(root, runID string) (*Board, error) {
	id, err := ident.Validate(runID, ident.KindRun)
	if err != nil {
		return nil, errs.Wrap(errs.KindSecurity, err)
	}
	path := filepath.Join(root, id+".json")
	doc := &Document{RunID: id, Agents: map[string]*Agent{}, ClaimChains: map[string]*Chain{}}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errs.Wrap(errs.KindHandler, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return nil, errs.Wrap(errs.KindPermanentBackend, err)
	}
	return &Board{path: path, lockPath: path + ".lock", runID: id}, nil
}

// Open attaches to an existing blackboard file.
func Open(root, runID string) (*Board, error) {
	id, err := ident.Validate(runID, ident.KindRun)
	if err != nil {
		return nil, errs.Wrap(errs.KindSecurity, err)
	}
	path := filepath.Join(root, id+".json")
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Wrap(errs.KindNotFound, err)
	}
	return &Board{path: path, lockPath: path + ".lock", runID: id}, nil
}

// Path returns the blackboard file's filesystem path, shared with spawned
// agents via their prompt.
func (b *Board) Path() string { return b.path }

// acquireLock creates the lock file exclusively, breaking a stale lock whose
// mtime is older than the break-glass TTL (a crashed holder's lock).
func (b *Board) acquireLock() error {
	f, err := os.OpenFile(b.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, werr := f.WriteString(fmt.Sprintf("%d", time.Now().UnixNano()))
		f.Close()
		return werr
	}
	info, statErr := os.Stat(b.lockPath)
	if statErr != nil {
		return errs.Wrap(errs.KindConflict, err)
	}
	if time.Since(info.ModTime()) < lockBreakGlassTTL {
		return errs.New(errs.KindConflict, "blackboard lock held")
	}
	_ = os.Remove(b.lockPath)
	return b.acquireLock()
}

func (b *Board) releaseLock() {
	_ = os.Remove(b.lockPath)
}

func (b *Board) read() (*Document, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.KindPermanentBackend, err)
	}
	if doc.Agents == nil {
		doc.Agents = map[string]*Agent{}
	}
	if doc.ClaimChains == nil {
		doc.ClaimChains = map[string]*Chain{}
	}
	return &doc, nil
}

func (b *Board) write(doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errs.Wrap(errs.KindHandler, err)
	}
	return os.WriteFile(b.path, data, 0o644)
}

// withLock performs a read-modify-write cycle under the exclusive lock,
// lazily expiring stale claim chains first (spec §4.6 invariant "Expired
// chains are transitioned to expired lazily on read-modify-write").
func (b *Board) withLock(fn func(doc *Document) error) error {
	if err := b.acquireLock(); err != nil {
		return err
	}
	defer b.releaseLock()

	doc, err := b.read()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, c := range doc.ClaimChains {
		if c.Status == ChainActive && now.After(c.ExpiresAt) {
			c.Status = ChainExpired
		}
	}
	if err := fn(doc); err != nil {
		return err
	}
	return b.write(doc)
}

// Snapshot reads the document without the lock (spec §4.6 "readers snapshot
// without the lock and accept mild staleness").
func (b *Board) Snapshot() (*Document, error) {
	return b.read()
}

// RegisterAgent is idempotent by agentID (spec §4.6 "register_agent").
func (b *Board) RegisterAgent(agentID, task string, interests []string) error {
	id, err := ident.Validate(agentID, ident.KindAgent)
	if err != nil {
		return errs.Wrap(errs.KindSecurity, err)
	}
	return b.withLock(func(doc *Document) error {
		if existing, ok := doc.Agents[id]; ok {
			existing.HeartbeatAt = time.Now().UTC()
			return nil
		}
		doc.Agents[id] = &Agent{Task: task, State: AgentActive, HeartbeatAt: time.Now().UTC(), Interests: interests}
		return nil
	})
}

// Heartbeat updates agentID's heartbeat_at.
func (b *Board) Heartbeat(agentID string) error {
	return b.withLock(func(doc *Document) error {
		a, ok := doc.Agents[agentID]
		if !ok {
			return errs.New(errs.KindNotFound, "agent "+agentID+" not registered")
		}
		a.HeartbeatAt = time.Now().UTC()
		return nil
	})
}

// MarkCompleted transitions agentID to completed.
func (b *Board) MarkCompleted(agentID string) error {
	return b.setAgentState(agentID, AgentCompleted)
}

// MarkFailed transitions agentID to failed.
func (b *Board) MarkFailed(agentID string) error {
	return b.setAgentState(agentID, AgentFailed)
}

func (b *Board) setAgentState(agentID string, state AgentState) error {
	return b.withLock(func(doc *Document) error {
		a, ok := doc.Agents[agentID]
		if !ok {
			return errs.New(errs.KindNotFound, "agent "+agentID+" not registered")
		}
		a.State = state
		return nil
	})
}

// AddFinding appends a finding (spec §4.6 "add_finding", append-only).
func (b *Board) AddFinding(agentID, kind, content string, files []string, importance string, tags []string) error {
	return b.withLock(func(doc *Document) error {
		doc.Findings = append(doc.Findings, Finding{
			ID:         fmt.Sprintf("f%d", len(doc.Findings)+1),
			AgentID:    agentID,
			Kind:       kind,
			Content:    content,
			Files:      files,
			Importance: importance,
			Tags:       tags,
			CreatedAt:  time.Now().UTC(),
		})
		return nil
	})
}

// ReadDelta returns findings added since agentID's cursor and advances it
// (spec §4.6 "read_delta").
func (b *Board) ReadDelta(agentID string) ([]Finding, error) {
	var delta []Finding
	err := b.withLock(func(doc *Document) error {
		a, ok := doc.Agents[agentID]
		if !ok {
			return errs.New(errs.KindNotFound, "agent "+agentID+" not registered")
		}
		if a.Cursor < len(doc.Findings) {
			delta = append(delta, doc.Findings[a.Cursor:]...)
			a.Cursor = len(doc.Findings)
		}
		return nil
	})
	return delta, err
}

// ClaimResult is returned by ClaimChain.
type ClaimResult struct {
	ChainID   string
	Blocked   bool
	Conflicts []Chain
}

// ClaimChain atomically verifies no active chain overlaps files; on
// conflict returns the offending chains, on success writes the chain record
// (spec §4.6 "claim_chain").
func (b *Board) ClaimChain(agentID string, files []string, reason string, ttl time.Duration) (ClaimResult, error) {
	if ttl <= 0 {
		ttl = defaultChainTTL
	}
	var result ClaimResult
	err := b.withLock(func(doc *Document) error {
		if _, ok := doc.Agents[agentID]; !ok {
			return errs.New(errs.KindNotFound, "agent "+agentID+" not registered")
		}
		claimed := make(map[string]struct{}, len(files))
		for _, f := range files {
			claimed[f] = struct{}{}
		}
		for _, c := range doc.ClaimChains {
			if c.Status != ChainActive {
				continue
			}
			for _, f := range c.Files {
				if _, overlap := claimed[f]; overlap {
					result.Blocked = true
					result.Conflicts = append(result.Conflicts, *c)
					break
				}
			}
		}
		if result.Blocked {
			return nil
		}
		chainID := fmt.Sprintf("c%d", len(doc.ClaimChains)+1)
		now := time.Now().UTC()
		doc.ClaimChains[chainID] = &Chain{
			AgentID:   agentID,
			Files:     files,
			Reason:    reason,
			ClaimedAt: now,
			ExpiresAt: now.Add(ttl),
			Status:    ChainActive,
		}
		result.ChainID = chainID
		return nil
	})
	return result, err
}

// ReleaseChain marks chainID released.
func (b *Board) ReleaseChain(agentID, chainID string) error {
	return b.setChainStatus(agentID, chainID, ChainReleased)
}

// CompleteChain marks chainID completed.
func (b *Board) CompleteChain(agentID, chainID string) error {
	return b.setChainStatus(agentID, chainID, ChainCompleted)
}

func (b *Board) setChainStatus(agentID, chainID string, status ChainStatus) error {
	return b.withLock(func(doc *Document) error {
		c, ok := doc.ClaimChains[chainID]
		if !ok {
			return errs.New(errs.KindNotFound, "chain "+chainID+" not found")
		}
		if c.AgentID != agentID {
			return errs.New(errs.KindConflict, "chain "+chainID+" is not owned by "+agentID)
		}
		c.Status = status
		return nil
	})
}
