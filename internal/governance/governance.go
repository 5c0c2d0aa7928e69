// Package governance implements the manifest proposal lifecycle of
// spec.md §4.8: propose -> Open -> shadow -> Shadowed -> approve ->
// Approved -> apply -> Applied, with reject/expire short-circuiting to
// Rejected from Open, Shadowed or Approved. It is grounded in the
// teacher's applications/jam status-driven package lifecycle
// (applications/jam/coordinator.go's Register/Activate/Deprecate
// transitions), generalized to a voter-quorum approval gate.
package governance

import (
	"sort"
	"sync"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/metrics"
	"github.com/agentworld/worldkernel/internal/module"
	"github.com/agentworld/worldkernel/internal/state"
)

// Status is a proposal's lifecycle state.
type Status string

const (
	StatusOpen      Status = "Open"
	StatusShadowed  Status = "Shadowed"
	StatusApproved  Status = "Approved"
	StatusApplied   Status = "Applied"
	StatusRejected  Status = "Rejected"
)

// Vote is one voter's decision on a proposal.
type Vote string

const (
	VoteApprove Vote = "Approve"
	VoteReject  Vote = "Reject"
)

// ModuleChangeKind names one of the module lifecycle operations a
// proposal may bundle.
type ModuleChangeKind string

const (
	ChangeRegister ModuleChangeKind = "Register"
	ChangeActivate ModuleChangeKind = "Activate"
	ChangeRetire   ModuleChangeKind = "Retire"
)

// ModuleChange is one entry of a proposal's module_changes list,
// applied in declaration order by apply_proposal.
type ModuleChange struct {
	Kind     ModuleChangeKind
	ModuleID string
	Version  string
	Manifest module.Manifest // only meaningful for ChangeRegister
}

// Proposal is a single manifest-update or manifest-patch proposal
// moving through the governance state machine. Manifest is the
// world-level manifest (spec.md §3's Manifest{version, content}), not
// a per-module manifest; ModuleChanges is derived from
// Manifest.Content[ModuleChangesKey] once the proposal reaches
// Shadowed, not supplied directly by the caller.
type Proposal struct {
	ID            string
	Author        string
	Status        Status
	Manifest      *state.Manifest // set for propose_manifest_update, resolved at shadow time for propose_manifest_patch
	Patch         *ManifestPatch  // set for propose_manifest_patch
	ModuleChanges []ModuleChange  // parsed from Manifest.Content[ModuleChangesKey] by ShadowProposal

	ShadowedHash string // the hash the applied manifest would have, set by shadow_proposal
	Votes        map[string]Vote
	RejectReason string
}

// QuorumPolicy decides whether a proposal's collected votes are
// sufficient to move it to Approved. SingleApproverQuorum is the
// spec's default "any approver after shadowing is sufficient" test
// mode; WeightedQuorum is the production policy DESIGN.md's governance
// Open Question resolved on: a configurable threshold_weight against
// per-voter weights (default weight 1).
type QuorumPolicy interface {
	Satisfied(votes map[string]Vote) bool
}

// SingleApproverQuorum is satisfied the moment any voter approves and
// no voter has rejected, per spec.md §4.8's stated default.
type SingleApproverQuorum struct{}

func (SingleApproverQuorum) Satisfied(votes map[string]Vote) bool {
	for _, v := range votes {
		if v == VoteReject {
			return false
		}
	}
	for _, v := range votes {
		if v == VoteApprove {
			return true
		}
	}
	return false
}

// WeightedQuorum requires the sum of approving voters' weights to meet
// or exceed ThresholdWeight, and rejects outright if any reject vote
// is cast by a voter whose weight alone would block quorum — in
// practice, any reject vote removes the proposal from consideration
// once outstanding approvals can no longer reach threshold. Unlisted
// voters default to weight 1.
type WeightedQuorum struct {
	Weights        map[string]float64
	ThresholdWeight float64
}

func (q WeightedQuorum) weightOf(voter string) float64 {
	if w, ok := q.Weights[voter]; ok {
		return w
	}
	return 1
}

func (q WeightedQuorum) Satisfied(votes map[string]Vote) bool {
	var approved float64
	for voter, v := range votes {
		if v == VoteApprove {
			approved += q.weightOf(voter)
		}
	}
	return approved >= q.ThresholdWeight
}

// Rejected reports whether the collected votes already make quorum
// unreachable: any reject vote from a weight large enough that the sum
// of remaining conceivable approvals is moot is out of scope here —
// conservatively, any single reject blocks under the weighted policy
// the same way it does for SingleApproverQuorum, matching spec.md's
// "collects votes ... quorum policy is met" framing for an explicit
// veto. Callers that want pure additive quorum without veto should not
// call Rejected and should rely on Satisfied alone plus an expiry path.
func (q WeightedQuorum) Rejected(votes map[string]Vote) bool {
	for _, v := range votes {
		if v == VoteReject {
			return true
		}
	}
	return false
}

// ShadowValidator runs full validation of one Register module_change's
// manifest against module registry state, without mutating it — the
// same shape as module.ValidateShadow, invoked once per ChangeRegister
// entry in a proposal's parsed ModuleChanges.
type ShadowValidator func(m module.Manifest) []string

// Store is the in-memory proposal ledger. A single Store instance is
// owned by one governance domain (one world), mirroring the kernel's
// single-owner discipline.
type Store struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	quorum    QuorumPolicy
	validate  ShadowValidator
}

// New constructs a Store with the given quorum policy and shadow
// validator. A nil quorum defaults to SingleApproverQuorum.
func New(quorum QuorumPolicy, validate ShadowValidator) *Store {
	if quorum == nil {
		quorum = SingleApproverQuorum{}
	}
	return &Store{
		proposals: make(map[string]*Proposal),
		quorum:    quorum,
		validate:  validate,
	}
}

// ProposeManifestUpdate creates an Open proposal carrying a full
// manifest replacement. Any module_changes the manifest's content
// bundles are parsed out of it once the proposal is shadowed, not
// here.
func (s *Store) ProposeManifestUpdate(id, author string, m state.Manifest) *Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Proposal{ID: id, Author: author, Status: StatusOpen, Manifest: &m, Votes: make(map[string]Vote)}
	s.proposals[id] = p
	return p
}

// ProposeManifestPatch creates an Open proposal carrying a patch
// against a base manifest hash, resolved at shadow time.
func (s *Store) ProposeManifestPatch(id, author string, patch ManifestPatch) *Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Proposal{ID: id, Author: author, Status: StatusOpen, Patch: &patch, Votes: make(map[string]Vote)}
	s.proposals[id] = p
	return p
}

func (s *Store) get(id string) (*Proposal, error) {
	p, ok := s.proposals[id]
	if !ok {
		return nil, kernelerr.ProposalNotFound(id)
	}
	return p, nil
}

// ShadowProposal runs full validation without mutating any live
// module-registry state. On success the proposal moves to Shadowed,
// its would-be applied manifest hash is recorded, and any
// content[module_changes] the manifest bundles is parsed into
// p.ModuleChanges (each Register entry's manifest individually
// shadow-validated); on failure it moves to Rejected and the first
// validation error is returned.
func (s *Store) ShadowProposal(id string, resolveManifest func(p *Proposal) (state.Manifest, error)) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusOpen {
		return nil, kernelerr.ProposalNotShadowed(id)
	}

	manifest, err := resolveManifest(p)
	if err != nil {
		p.Status = StatusRejected
		p.RejectReason = err.Error()
		metrics.RecordGovernanceProposal(string(StatusRejected))
		return p, err
	}

	changes, err := ParseModuleChanges(manifest.Content)
	if err != nil {
		p.Status = StatusRejected
		p.RejectReason = err.Error()
		metrics.RecordGovernanceProposal(string(StatusRejected))
		return p, err
	}

	if s.validate != nil {
		for _, change := range changes {
			if change.Kind != ChangeRegister {
				continue
			}
			if problems := s.validate(change.Manifest); len(problems) > 0 {
				p.Status = StatusRejected
				p.RejectReason = problems[0]
				metrics.RecordGovernanceProposal(string(StatusRejected))
				return p, kernelerr.ModuleChangeInvalid(problems[0])
			}
		}
	}

	hash, err := codec.HashState(manifest)
	if err != nil {
		p.Status = StatusRejected
		p.RejectReason = err.Error()
		metrics.RecordGovernanceProposal(string(StatusRejected))
		return p, err
	}

	p.Manifest = &manifest
	p.ModuleChanges = changes
	p.ShadowedHash = hash
	p.Status = StatusShadowed
	metrics.RecordGovernanceProposal(string(StatusShadowed))
	return p, nil
}

// ApproveProposal records voter's decision. A Reject vote moves the
// proposal straight to Rejected. An Approve vote moves it to Approved
// once the quorum policy is satisfied.
func (s *Store) ApproveProposal(id, voter string, vote Vote) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusShadowed && p.Status != StatusApproved {
		return nil, kernelerr.ProposalNotShadowed(id)
	}

	p.Votes[voter] = vote
	if vote == VoteReject {
		p.Status = StatusRejected
		p.RejectReason = "vetoed by " + voter
		metrics.RecordGovernanceProposal(string(StatusRejected))
		return p, nil
	}
	if s.quorum.Satisfied(p.Votes) {
		p.Status = StatusApproved
		metrics.RecordGovernanceProposal(string(StatusApproved))
	}
	return p, nil
}

// RejectProposal force-rejects an Open, Shadowed or Approved proposal
// (an explicit reject/expire transition independent of voting); an
// Applied or already Rejected proposal is refused.
func (s *Store) RejectProposal(id, reason string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusApplied || p.Status == StatusRejected {
		return nil, kernelerr.ProposalNotShadowed(id)
	}
	p.Status = StatusRejected
	p.RejectReason = reason
	metrics.RecordGovernanceProposal(string(StatusRejected))
	return p, nil
}

// ApplyResult is what apply_proposal hands back to the kernel/registry
// caller: the author, the final manifest to commit (with
// ModuleChangesKey stripped from its content, per spec.md §8 scenario
// 6), and the module changes to apply in declaration order.
type ApplyResult struct {
	Author   string
	Manifest state.Manifest
	Changes  []ModuleChange
}

// ApplyProposal commits an Approved proposal, returning its manifest
// and ordered module changes for the caller to apply against the live
// module.Registry (kept outside this package to avoid a governance ->
// module -> governance import cycle with the kernel's dispatch code).
func (s *Store) ApplyProposal(id string) (ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.get(id)
	if err != nil {
		return ApplyResult{}, err
	}
	if p.Status != StatusApproved {
		return ApplyResult{}, kernelerr.ProposalNotShadowed(id)
	}
	if p.Manifest == nil {
		return ApplyResult{}, kernelerr.ModuleChangeInvalid("proposal has no resolved manifest")
	}
	p.Status = StatusApplied
	metrics.RecordGovernanceProposal(string(StatusApplied))

	content := cloneContent(p.Manifest.Content)
	delete(content, ModuleChangesKey)
	final := state.Manifest{Version: p.Manifest.Version, Content: content}
	return ApplyResult{
		Author:   p.Author,
		Manifest: final,
		Changes:  append([]ModuleChange(nil), p.ModuleChanges...),
	}, nil
}

// Get returns the proposal by id.
func (s *Store) Get(id string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// List returns every proposal, sorted by id, for read-only inspection.
func (s *Store) List() []*Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
