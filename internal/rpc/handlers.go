// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"time"

	"github.com/ifak-eu/mediator/internal/auth"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/merr"
	"github.com/ifak-eu/mediator/internal/session"
	"github.com/ifak-eu/mediator/internal/varstore"
)

// methodCaller is the optional capability a Module implements to
// accept CallMethod, the generic escape hatch of spec.md §6. Modules
// with no such operations simply don't implement it.
type methodCaller interface {
	CallMethod(ctx context.Context, methodName string, params any) (any, error)
}

func (d *Dispatcher) handleLogin(_ context.Context, _ *session.Session, req any) Outcome {
	r := req.(*LoginRequest)

	var user string
	var moduleID ident.ModuleID
	if r.ModuleID != "" {
		moduleID = ident.ModuleID(r.ModuleID)
		user = r.ModuleID
	} else {
		user = r.User
	}

	creds, err := d.users.Lookup(user)
	if err != nil {
		return Fail(err)
	}
	roles := creds.Roles
	if moduleID == "" && len(r.Roles) > 0 {
		roles = r.Roles
	}

	id := session.NewID()
	challenge, err := auth.NewChallenge()
	if err != nil {
		return Fail(merr.Wrap(merr.Internal, err, "generating login challenge"))
	}

	d.mu.Lock()
	d.pending[id] = pendingLogin{
		user:      user,
		moduleID:  moduleID,
		roles:     roles,
		password:  creds.Password,
		challenge: challenge,
	}
	d.mu.Unlock()

	return OK(LoginResponse{SessionID: string(id), Challenge: challenge})
}

func (d *Dispatcher) handleAuthenticate(_ context.Context, _ *session.Session, req any) Outcome {
	r := req.(*AuthenticateRequest)
	id := session.ID(r.SessionID)

	d.mu.Lock()
	p, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if !ok {
		return Fail(ErrInvalidSession)
	}

	if !auth.Verify(p.password, p.challenge, id, r.Digest) {
		return Fail(merr.New(merr.Auth, "authentication failed"))
	}

	sess := session.New(p.user, p.roles)
	sess.ID = id
	sess.ModuleID = p.moduleID
	d.sessions.Add(sess)

	return OK(AuthenticateResponse{User: p.user, Roles: p.roles})
}

func (d *Dispatcher) handleLogout(_ context.Context, sess *session.Session, req any) Outcome {
	r := req.(*LogoutRequest)
	id := session.ID(r.SessionID)
	if sess != nil {
		id = sess.ID
	}
	d.sessions.Remove(id)
	return OK(empty{})
}

func (d *Dispatcher) handleGetLoginUser(_ context.Context, sess *session.Session, _ any) Outcome {
	return OK(GetLoginUserResponse{User: sess.User, Roles: sess.Roles})
}

func (d *Dispatcher) handleGetModules(_ context.Context, _ *session.Session, _ any) Outcome {
	if d.catalog == nil {
		return Fail(merr.New(merr.Internal, "module catalog not configured"))
	}
	return OK(GetModulesResponse{Modules: d.catalog.Modules()})
}

// storeFor resolves the variable store owning ref, tagging a missing
// binding as a Request error.
func (d *Dispatcher) storeFor(ref ident.VariableRef) (*varstore.Store, error) {
	st, ok := d.stores.StoreFor(ref.Object.Module)
	if !ok {
		return nil, merr.New(merr.Request, "module %s has no variable store", ref.Object.Module)
	}
	return st, nil
}

func (d *Dispatcher) handleReadVariables(_ context.Context, _ *session.Session, req any) Outcome {
	return d.readVariables(req.(*ReadVariablesRequest), false)
}

func (d *Dispatcher) handleReadVariablesIgnoreMissing(_ context.Context, _ *session.Session, req any) Outcome {
	return d.readVariables(req.(*ReadVariablesRequest), true)
}

func (d *Dispatcher) readVariables(r *ReadVariablesRequest, ignoreMissing bool) Outcome {
	values := make([]VariableValue, 0, len(r.Variables))
	for _, ref := range r.Variables {
		st, err := d.storeFor(ref)
		if err != nil {
			if ignoreMissing {
				continue
			}
			return Fail(err)
		}
		vtq, err := st.Get(ref)
		if err != nil {
			if ignoreMissing {
				continue
			}
			return Fail(err)
		}
		values = append(values, VariableValue{Ref: ref, VTQ: vtq})
	}
	return OK(ReadVariablesResponse{Values: values})
}

func (d *Dispatcher) handleWriteVariables(_ context.Context, _ *session.Session, req any) Outcome {
	return d.writeVariables(req.(*WriteVariablesRequest))
}

func (d *Dispatcher) writeVariables(r *WriteVariablesRequest) Outcome {
	byStore := make(map[*varstore.Store][]int)
	applied := make([]bool, len(r.Values))
	for i, v := range r.Values {
		st, err := d.storeFor(v.Ref)
		if err != nil {
			applied[i] = false
			continue
		}
		byStore[st] = append(byStore[st], i)
	}

	for st, indices := range byStore {
		batch := make([]varstore.VariableValue, len(indices))
		for j, idx := range indices {
			batch[j] = varstore.VariableValue{Ref: r.Values[idx].Ref, Value: r.Values[idx].VTQ}
		}
		changes := st.Update(batch, varstore.Options{RejectStale: r.RejectStale})
		for j, idx := range indices {
			applied[idx] = changes[j].Applied
		}
	}

	return OK(WriteVariablesResponse{Applied: applied})
}

// runWithTimeout races fn against timeoutMillis (falling back to ctx's
// own deadline when timeoutMillis is 0), per spec.md §5's synchronous
// read/write model: a timer win reports Timeout without cancelling
// fn, which keeps running in the background and may still apply its
// effect.
func (d *Dispatcher) runWithTimeout(ctx context.Context, timeoutMillis int, fn func() Outcome) Outcome {
	if timeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMillis)*time.Millisecond)
		defer cancel()
	}

	done := make(chan Outcome, 1)
	go func() { done <- fn() }()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return Fail(merr.Wrap(merr.Timeout, ctx.Err(), "request timed out"))
	}
}

func (d *Dispatcher) handleReadVariablesSync(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*ReadVariablesSyncRequest)
	return d.runWithTimeout(ctx, r.TimeoutMillis, func() Outcome {
		return d.readVariables(&ReadVariablesRequest{Variables: r.Variables}, false)
	})
}

func (d *Dispatcher) handleReadVariablesSyncIgnoreMissing(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*ReadVariablesSyncRequest)
	return d.runWithTimeout(ctx, r.TimeoutMillis, func() Outcome {
		return d.readVariables(&ReadVariablesRequest{Variables: r.Variables}, true)
	})
}

func (d *Dispatcher) handleWriteVariablesSync(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*WriteVariablesSyncRequest)
	return d.runWithTimeout(ctx, r.TimeoutMillis, func() Outcome {
		return d.writeVariables(&WriteVariablesRequest{Values: r.Values, RejectStale: r.RejectStale})
	})
}

func (d *Dispatcher) handleHistorianReadRaw(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*HistorianReadRawRequest)
	f, err := d.historian.ReadRaw(historian.ReadRawItem{
		Ref: r.Ref, Start: r.Start, End: r.End,
		MaxValues: r.MaxValues, Bounding: r.Bounding, Filter: r.Filter,
	})
	if err != nil {
		return Fail(merr.Wrap(merr.Request, err, "HistorianReadRaw"))
	}
	res, err := f.Wait(ctx)
	if err != nil {
		return Fail(toHistorianErr(ctx, err))
	}
	return OK(HistorianReadRawResponse{Samples: res.Rows})
}

func (d *Dispatcher) handleHistorianCount(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*HistorianCountRequest)
	f, err := d.historian.Count(historian.CountItem{Ref: r.Ref, Start: r.Start, End: r.End, Filter: r.Filter})
	if err != nil {
		return Fail(merr.Wrap(merr.Request, err, "HistorianCount"))
	}
	res, err := f.Wait(ctx)
	if err != nil {
		return Fail(toHistorianErr(ctx, err))
	}
	return OK(HistorianCountResponse{Count: res.Count})
}

func (d *Dispatcher) handleHistorianDeleteInterval(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*HistorianDeleteIntervalRequest)
	f, err := d.historian.DeleteInterval(historian.DeleteIntervalItem{Ref: r.Ref, Start: r.Start, End: r.End})
	if err != nil {
		return Fail(merr.Wrap(merr.Request, err, "HistorianDeleteInterval"))
	}
	if _, err := f.Wait(ctx); err != nil {
		return Fail(toHistorianErr(ctx, err))
	}
	return OK(empty{})
}

func (d *Dispatcher) handleHistorianModify(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*HistorianModifyRequest)
	f, err := d.historian.Modify(historian.ModifyItem{Ref: r.Ref, Mode: r.Mode, Data: r.Data})
	if err != nil {
		return Fail(merr.Wrap(merr.Request, err, "HistorianModify"))
	}
	res, err := f.Wait(ctx)
	if err != nil {
		return Fail(toHistorianErr(ctx, err))
	}
	return OK(HistorianModifyResponse{ItemErrors: res.ItemErrors})
}

func (d *Dispatcher) handleHistorianDeleteVariables(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*HistorianDeleteVariablesRequest)
	futures, err := d.historian.DeleteObjectTree(r.Variables)
	if err != nil {
		return Fail(merr.Wrap(merr.Request, err, "HistorianDeleteVariables"))
	}
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			return Fail(toHistorianErr(ctx, err))
		}
	}
	return OK(empty{})
}

func (d *Dispatcher) handleHistorianGetLatestTimestampDB(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*HistorianGetLatestTimestampDBRequest)
	f, err := d.historian.GetLatest(historian.GetLatestItem{Ref: r.Ref})
	if err != nil {
		return Fail(merr.Wrap(merr.Request, err, "HistorianGetLatestTimestampDB"))
	}
	res, err := f.Wait(ctx)
	if err != nil {
		return Fail(toHistorianErr(ctx, err))
	}
	return OK(HistorianGetLatestTimestampDBResponse{Timestamp: res.Timestamp})
}

// toHistorianErr tags a historian Future error: a context deadline
// means the caller gave up waiting (Timeout), per spec.md §5, while
// anything else surfaced by the worker is an Internal failure.
func toHistorianErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return merr.Wrap(merr.Timeout, err, "historian operation timed out")
	}
	return merr.Wrap(merr.Internal, err, "historian operation failed")
}

func (d *Dispatcher) handleEnableVariableValueChangedEvents(_ context.Context, sess *session.Session, req any) Outcome {
	r := req.(*EnableVariableValueChangedEventsRequest)
	sess.EnableVariableValueChanged(session.VariableSubscription{
		Variables: r.Variables, Roots: r.Roots, Coalesce: r.Coalesce,
	})
	return OK(empty{})
}

func (d *Dispatcher) handleEnableVariableHistoryChangedEvents(_ context.Context, sess *session.Session, _ any) Outcome {
	sess.EnableHistoryChanged()
	return OK(empty{})
}

func (d *Dispatcher) handleEnableConfigChangedEvents(_ context.Context, sess *session.Session, req any) Outcome {
	r := req.(*EnableConfigChangedEventsRequest)
	sess.EnableConfigChanged(r.Objects)
	return OK(empty{})
}

func (d *Dispatcher) handleEnableAlarmsAndEvents(_ context.Context, sess *session.Session, req any) Outcome {
	r := req.(*EnableAlarmsAndEventsRequest)
	sess.EnableAlarmsAndEvents(r.MinSeverity)
	return OK(empty{})
}

func (d *Dispatcher) handleDisableChangeEvents(_ context.Context, sess *session.Session, _ any) Outcome {
	sess.DisableChangeEvents()
	return OK(empty{})
}

func (d *Dispatcher) handleDisableAlarmsAndEvents(_ context.Context, sess *session.Session, _ any) Outcome {
	sess.DisableAlarmsAndEvents()
	return OK(empty{})
}

func (d *Dispatcher) handleUpdateConfig(_ context.Context, _ *session.Session, req any) Outcome {
	r := req.(*UpdateConfigRequest)

	changed := make(map[ident.ObjectRef]bool)
	for _, o := range r.UpdateOrDeleteObjects {
		changed[o] = true
	}
	for _, v := range r.UpdateOrDeleteMembers {
		changed[v.Object] = true
	}
	for _, o := range r.AddArrayElements {
		changed[o] = true
	}

	for _, sess := range d.sessions.All() {
		for obj := range changed {
			if sess.WantsConfigChange(obj) {
				sess.Enqueue(session.Event{Kind: session.EventConfigChanged, Object: obj})
			}
		}
	}
	return OK(empty{})
}

func (d *Dispatcher) handleCallMethod(ctx context.Context, _ *session.Session, req any) Outcome {
	r := req.(*CallMethodRequest)

	mod, err := d.supervisor.ModuleFor(r.ModuleID)
	if err != nil {
		return Fail(merr.Wrap(merr.Request, err, "CallMethod"))
	}
	caller, ok := mod.(methodCaller)
	if !ok {
		return Fail(merr.New(merr.Request, "module %s does not implement CallMethod", r.ModuleID))
	}
	result, err := caller.CallMethod(ctx, r.MethodName, r.Parameters)
	if err != nil {
		return Fail(merr.Wrap(merr.Internal, err, "CallMethod"))
	}
	return OK(CallMethodResponse{Result: result})
}
