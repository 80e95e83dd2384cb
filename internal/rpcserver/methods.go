package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/proofcastlabs/bridge-enclave/internal/debugsig"
	"github.com/proofcastlabs/bridge-enclave/internal/userop"
)

func methodPing(_ context.Context, _ *Server, _ json.RawMessage) (interface{}, error) {
	return "pong", nil
}

func methodGetCoreState(_ context.Context, s *Server, _ json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return CoreState{CoreConnected: s.coreConnected.Load()}, nil
	}
	return s.deps.ChainControl.CoreState(), nil
}

func methodGetUserOps(_ context.Context, s *Server, _ json.RawMessage) (interface{}, error) {
	if s.deps.UserOps == nil {
		return nil, fmt.Errorf("rpcserver: user-op store not configured")
	}
	return s.deps.UserOps.List()
}

type uidParams struct {
	UID common.Hash `json:"uid"`
}

func methodGetUserOp(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.UserOps == nil {
		return nil, fmt.Errorf("rpcserver: user-op store not configured")
	}
	var p uidParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	return s.deps.UserOps.Get(p.UID)
}

func methodRemoveUserOp(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.UserOps == nil {
		return nil, fmt.Errorf("rpcserver: user-op store not configured")
	}
	var p uidParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	if err := s.deps.UserOps.Remove(p.UID); err != nil {
		return nil, err
	}
	return true, nil
}

type cancelUserOpsParams struct {
	UIDs  []common.Hash    `json:"uids"`
	Actor userop.ActorType `json:"actor"`
}

func methodCancelUserOps(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.UserOps == nil {
		return nil, fmt.Errorf("rpcserver: user-op store not configured")
	}
	var p cancelUserOpsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	for _, uid := range p.UIDs {
		if err := s.deps.UserOps.Cancel(uid, p.Actor); err != nil {
			return nil, err
		}
	}
	return true, nil
}

type challengeParams struct {
	UID              common.Hash `json:"uid"`
	CoreType         string      `json:"core_type"`
	DebugCommandHash common.Hash `json:"debug_command_hash"`
}

func methodGetChallenge(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.Signatories == nil {
		return nil, fmt.Errorf("rpcserver: signatory set not configured")
	}
	var p challengeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	return s.deps.Signatories.Challenge(p.UID, p.CoreType, p.DebugCommandHash)
}

func methodGetChallengesList(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.Signatories == nil {
		return nil, fmt.Errorf("rpcserver: signatory set not configured")
	}
	var p challengeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	return s.deps.Signatories.ChallengesList(p.CoreType, p.DebugCommandHash)
}

type submitBlockParams struct {
	Side      string `json:"side"`
	BlockNum  uint64 `json:"block_num"`
	DryRun    bool   `json:"dry_run"`
	Reprocess bool   `json:"reprocess"`
}

func methodSubmitBlock(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p submitBlockParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	return s.deps.ChainControl.SubmitBlock(p.Side, p.BlockNum, p.DryRun, p.Reprocess)
}

type sideParams struct {
	Side string `json:"side"`
}

func methodProcessBlock(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p sideParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	return s.deps.ChainControl.ProcessBlock(p.Side, raw)
}

func methodInit(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p sideParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	if err := s.deps.ChainControl.Init(p.Side, raw); err != nil {
		return nil, err
	}
	return true, nil
}

func methodResetChain(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p sideParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	if err := s.deps.ChainControl.ResetChain(p.Side, raw); err != nil {
		return nil, err
	}
	return true, nil
}

func methodGetRegistrationSignature(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.RegistrationSigner == nil {
		return nil, fmt.Errorf("rpcserver: registration signer not configured")
	}
	return s.deps.RegistrationSigner.GetRegistrationSignature(raw)
}

func methodGetRegistrationExtensionTx(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.RegistrationSigner == nil {
		return nil, fmt.Errorf("rpcserver: registration signer not configured")
	}
	return s.deps.RegistrationSigner.GetRegistrationExtensionTx(raw)
}

type signMessageParams struct {
	Message []byte `json:"message"`
}

func methodSignMessage(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.MessageSigner == nil {
		return nil, fmt.Errorf("rpcserver: message signer not configured")
	}
	var p signMessageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	return s.deps.MessageSigner.SignMessage(p.Message)
}

func methodGetAttestationCertificate(_ context.Context, s *Server, _ json.RawMessage) (interface{}, error) {
	if s.deps.Attestor == nil {
		return nil, fmt.Errorf("rpcserver: attestor not configured")
	}
	return s.deps.Attestor.GetAttestationCertificate()
}

func methodGetAttestationSignature(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.Attestor == nil {
		return nil, fmt.Errorf("rpcserver: attestor not configured")
	}
	var p signMessageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	return s.deps.Attestor.GetAttestationSignature(p.Message)
}

type addDebugSignersParams struct {
	Signatories []debugsig.Signatory `json:"signatories"`
}

func methodAddDebugSigners(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.Signatories == nil {
		return nil, fmt.Errorf("rpcserver: signatory set not configured")
	}
	var p addDebugSignersParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	for _, sig := range p.Signatories {
		if err := s.deps.Signatories.Add(sig); err != nil {
			return nil, err
		}
	}
	return true, nil
}

type chainIDParams struct {
	ChainID string `json:"chain_id"`
}

func methodStopSyncer(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p chainIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	if err := s.deps.ChainControl.StopSyncer(p.ChainID); err != nil {
		return nil, err
	}
	return true, nil
}

func methodStartSyncer(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p chainIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	if err := s.deps.ChainControl.StartSyncer(p.ChainID); err != nil {
		return nil, err
	}
	return true, nil
}

type frequencyParams struct {
	Milliseconds int64 `json:"ms"`
}

func methodSetUserOpCancellerFrequency(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p frequencyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	s.deps.ChainControl.SetUserOpCancellerFrequency(time.Duration(p.Milliseconds) * time.Millisecond)
	return true, nil
}

func methodSetStatusPublishingFrequency(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p frequencyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	s.deps.ChainControl.SetStatusPublishingFrequency(time.Duration(p.Milliseconds) * time.Millisecond)
	return true, nil
}

func methodSetChallengeResponderFrequency(_ context.Context, s *Server, raw json.RawMessage) (interface{}, error) {
	if s.deps.ChainControl == nil {
		return nil, fmt.Errorf("rpcserver: chain control not configured")
	}
	var p frequencyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rpcserver: invalid params: %w", err)
	}
	s.deps.ChainControl.SetChallengeResponderFrequency(time.Duration(p.Milliseconds) * time.Millisecond)
	return true, nil
}
