// Package scenario drives a complete multi-branch channel session between one
// Author and three subscribers over a transport and reports every step.
//
// Subscriber A is admitted first and receives the first group key alone.
// Subscriber B is admitted later and receives the second group key together
// with A. Subscriber C follows the channel but is never admitted; every
// attempt it makes to read protected content must be denied.
package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"xdao.co/streams/channel"
	"xdao.co/streams/keys"
	"xdao.co/streams/ledger"
	"xdao.co/streams/link"
	"xdao.co/streams/message"
	"xdao.co/streams/model"
)

const (
	SeedA = "SUBSCRIBERA9SEED"
	SeedB = "SUBSCRIBERB9SEED"
	SeedC = "SUBSCRIBERC9SEED"
)

var (
	PublicPayload = []byte("PUBLICPAYLOAD")
	MaskedPayload = []byte("MASKEDPAYLOAD")
)

// ErrExpectation wraps every failed expectation returned by MultiBranch.
var ErrExpectation = errors.New("scenario: expectation failed")

// Config controls a run. AuthorSeed is required.
type Config struct {
	AuthorSeed string
	Scheme     keys.Scheme
	Mode       Mode
	Logger     zerolog.Logger
	// Dump, when set, receives a state dump of the acting participant after
	// every step.
	Dump io.Writer
}

// participant is the part of Author and Subscriber a run drives generically.
type participant interface {
	UnwrapSequence(*message.Preparsed) (link.Link, error)
	UnwrapKeyload(*message.Preparsed) error
	UnwrapTaggedPacket(*message.Preparsed) (message.Payload, error)
	UnwrapSignedPacket(*message.Preparsed) (keys.PublicIdentity, message.Payload, error)
	FetchNext(context.Context, channel.Transport) ([]channel.Fetched, error)
	ChannelAddress() link.Address
	Snapshot() model.Participant
	String() string
}

type run struct {
	ctx    context.Context
	t      channel.Transport
	cfg    Config
	log    zerolog.Logger
	report *model.Report
	first  error

	author  *channel.Author
	a, b, c *channel.Subscriber
	names   map[participant]string
}

// MultiBranch runs the session. The report is returned even when the run
// fails; err is the first failed expectation or the error that stopped it.
func MultiBranch(ctx context.Context, t channel.Transport, cfg Config) (*model.Report, error) {
	if cfg.AuthorSeed == "" {
		return nil, errors.New("scenario: author seed is required")
	}
	r := &run{
		ctx:    ctx,
		t:      t,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("scenario", "multi-branch").Str("mode", cfg.Mode.String()).Logger(),
		report: &model.Report{Steps: []model.Step{}, Participants: []model.Participant{}},
	}
	err := r.setup()
	if err == nil {
		err = r.session()
	}
	for _, p := range r.participants() {
		r.report.Participants = append(r.report.Participants, p.Snapshot())
	}
	if r.author != nil {
		r.report.Channel = r.author.ChannelAddress().String()
	}
	if err == nil {
		err = r.first
	}
	if err != nil {
		r.log.Error().Err(err).Int("steps", len(r.report.Steps)).Msg("scenario failed")
		return r.report, err
	}
	r.log.Info().Int("steps", len(r.report.Steps)).Msg("scenario passed")
	return r.report, nil
}

func (r *run) setup() error {
	opts := []channel.Option{channel.WithScheme(r.cfg.Scheme), channel.WithLogger(r.cfg.Logger)}
	var err error
	if r.author, err = channel.NewAuthor(r.cfg.AuthorSeed, append(opts, channel.WithMultiBranching(true))...); err != nil {
		return fmt.Errorf("scenario: author: %w", err)
	}
	if r.a, err = channel.NewSubscriber(SeedA, opts...); err != nil {
		return fmt.Errorf("scenario: subscriber A: %w", err)
	}
	if r.b, err = channel.NewSubscriber(SeedB, opts...); err != nil {
		return fmt.Errorf("scenario: subscriber B: %w", err)
	}
	if r.c, err = channel.NewSubscriber(SeedC, opts...); err != nil {
		return fmt.Errorf("scenario: subscriber C: %w", err)
	}
	r.names = map[participant]string{r.author: "Author", r.a: "SubscriberA", r.b: "SubscriberB", r.c: "SubscriberC"}
	return nil
}

func (r *run) participants() []participant {
	if r.c == nil {
		return nil
	}
	return []participant{r.author, r.a, r.b, r.c}
}

func (r *run) session() error {
	ann, err := r.announce()
	if err != nil {
		return err
	}
	if err := r.admit(r.a, ann); err != nil {
		return err
	}

	// Keyload 1 reaches A only.
	kl1, err := r.shareKeyload(ann)
	if err != nil {
		return err
	}
	p, err := r.resolve(r.author, kl1, message.Keyload)
	if err != nil {
		return err
	}
	if err := r.expectDenied(r.b, "unwrap keyload", p, func() error { return r.b.UnwrapKeyload(p.Clone()) }); err != nil {
		return err
	}
	if err := r.expectDenied(r.c, "unwrap keyload", p, func() error { return r.c.UnwrapKeyload(p.Clone()) }); err != nil {
		return err
	}
	if err := r.step(r.a, "unwrap keyload", p.Header.Link, r.a.UnwrapKeyload(p)); err != nil {
		return err
	}
	if err := r.fetch(r.a); err != nil {
		return err
	}

	tp1, err := r.publish(r.a, "tag packet", func() (*message.Binary, *message.Binary, error) {
		return r.a.TagPacket(kl1, PublicPayload, MaskedPayload)
	})
	if err != nil {
		return err
	}
	if err := r.readTagged(tp1, r.a, []participant{r.author}, []participant{r.b, r.c}); err != nil {
		return err
	}
	if err := r.fetch(r.author); err != nil {
		return err
	}

	sp1, err := r.publish(r.author, "sign packet", func() (*message.Binary, *message.Binary, error) {
		return r.author.SignPacket(tp1, PublicPayload, MaskedPayload)
	})
	if err != nil {
		return err
	}
	p, err = r.resolve(r.author, sp1, message.SignedPacket)
	if err != nil {
		return err
	}
	if err := r.readSigned(r.a, p); err != nil {
		return err
	}

	// B joins; keyload 2 reaches A and B.
	if err := r.admit(r.b, ann); err != nil {
		return err
	}
	kl2, err := r.shareKeyload(ann)
	if err != nil {
		return err
	}
	p, err = r.resolve(r.author, kl2, message.Keyload)
	if err != nil {
		return err
	}
	if err := r.expectDenied(r.c, "unwrap keyload", p, func() error { return r.c.UnwrapKeyload(p.Clone()) }); err != nil {
		return err
	}
	if err := r.step(r.a, "unwrap keyload", p.Header.Link, r.a.UnwrapKeyload(p.Clone())); err != nil {
		return err
	}
	if err := r.step(r.b, "unwrap keyload", p.Header.Link, r.b.UnwrapKeyload(p)); err != nil {
		return err
	}
	if err := r.fetch(r.a); err != nil {
		return err
	}

	tp2, err := r.publish(r.a, "tag packet", func() (*message.Binary, *message.Binary, error) {
		return r.a.TagPacket(kl2, PublicPayload, MaskedPayload)
	})
	if err != nil {
		return err
	}
	if err := r.readTagged(tp2, r.a, []participant{r.author}, []participant{r.c}); err != nil {
		return err
	}
	if err := r.fetch(r.b); err != nil {
		return err
	}

	tp3, err := r.publish(r.b, "tag packet", func() (*message.Binary, *message.Binary, error) {
		return r.b.TagPacket(kl2, PublicPayload, MaskedPayload)
	})
	if err != nil {
		return err
	}
	if err := r.readTagged(tp3, r.b, []participant{r.a}, []participant{r.c}); err != nil {
		return err
	}
	if err := r.fetch(r.author); err != nil {
		return err
	}

	sp2, err := r.publish(r.author, "sign packet", func() (*message.Binary, *message.Binary, error) {
		return r.author.SignPacket(tp3, PublicPayload, MaskedPayload)
	})
	if err != nil {
		return err
	}
	p, err = r.resolve(r.author, sp2, message.SignedPacket)
	if err != nil {
		return err
	}
	if err := r.fetch(r.a); err != nil {
		return err
	}
	if err := r.fetch(r.b); err != nil {
		return err
	}
	if err := r.readSigned(r.a, p.Clone()); err != nil {
		return err
	}
	return r.readSigned(r.b, p)
}

func (r *run) announce() (link.Link, error) {
	msg, err := r.author.Announce()
	if err != nil {
		return link.Link{}, r.abort(r.author, "announce", link.Link{}, err)
	}
	if err := r.send(msg); err != nil {
		return link.Link{}, r.abort(r.author, "announce", msg.Link, err)
	}
	r.ok(r.author, "announce", msg.Link)

	p, err := r.receive(msg.Link, message.Announce)
	if err != nil {
		return link.Link{}, r.abort(r.author, "receive announcement", msg.Link, err)
	}
	want := r.author.ChannelAddress()
	for _, s := range []*channel.Subscriber{r.a, r.b, r.c} {
		if err := s.UnwrapAnnouncement(p.Clone()); err != nil {
			return link.Link{}, r.abort(s, "unwrap announcement", msg.Link, err)
		}
		if s.ChannelAddress() != want || want != msg.Link.Base() {
			return link.Link{}, r.abort(s, "unwrap announcement", msg.Link, r.expectation(s, "channel address does not match the author's"))
		}
		if s.IsMultiBranching() != r.author.IsMultiBranching() {
			return link.Link{}, r.abort(s, "unwrap announcement", msg.Link, r.expectation(s, "branching mode differs from the author's"))
		}
		r.ok(s, "unwrap announcement", msg.Link)
	}
	return msg.Link, nil
}

func (r *run) admit(s *channel.Subscriber, ann link.Link) error {
	msg, err := s.Subscribe(ann)
	if err != nil {
		return r.abort(s, "subscribe", ann, err)
	}
	if err := r.send(msg); err != nil {
		return r.abort(s, "subscribe", msg.Link, err)
	}
	r.ok(s, "subscribe", msg.Link)

	p, err := r.receive(msg.Link, message.Subscribe)
	if err != nil {
		return r.abort(r.author, "receive subscription", msg.Link, err)
	}
	id, err := r.author.UnwrapSubscribe(p)
	if err != nil {
		return r.abort(r.author, "unwrap subscribe", msg.Link, err)
	}
	if id.ID() != s.Identity().ID() {
		return r.abort(r.author, "unwrap subscribe", msg.Link, r.expectation(r.author, "admitted identity differs from the subscriber"))
	}
	r.ok(r.author, "unwrap subscribe", msg.Link)
	return nil
}

func (r *run) shareKeyload(anchor link.Link) (link.Link, error) {
	return r.publish(r.author, "share keyload", func() (*message.Binary, *message.Binary, error) {
		return r.author.ShareKeyloadForEveryone(anchor)
	})
}

// publish sends a message and its sequence entry and returns the sequence
// link, which is where readers pick the message up.
func (r *run) publish(who participant, action string, build func() (*message.Binary, *message.Binary, error)) (link.Link, error) {
	msg, seq, err := build()
	if err != nil {
		return link.Link{}, r.abort(who, action, link.Link{}, err)
	}
	if seq == nil {
		return link.Link{}, r.abort(who, action, msg.Link, r.expectation(who, "multi-branch message without a sequence entry"))
	}
	if err := r.send(msg, seq); err != nil {
		return link.Link{}, r.abort(who, action, msg.Link, err)
	}
	r.ok(who, action, msg.Link)
	return seq.Link, nil
}

// resolve reads the sequence entry at seq through who and returns the
// parsed message it references.
func (r *run) resolve(who participant, seq link.Link, want message.ContentType) (*message.Preparsed, error) {
	sp, err := r.receive(seq, message.Sequence)
	if err != nil {
		return nil, r.abort(who, "receive sequence", seq, err)
	}
	ref, err := who.UnwrapSequence(sp)
	if err != nil {
		return nil, r.abort(who, "unwrap sequence", seq, err)
	}
	r.ok(who, "unwrap sequence", seq)
	p, err := r.receive(ref, want)
	if err != nil {
		return nil, r.abort(who, "receive "+want.String(), ref, err)
	}
	return p, nil
}

// readTagged resolves a tagged packet through its publisher, checks that
// every reader gets the payloads back and that every outsider is denied.
func (r *run) readTagged(seq link.Link, publisher participant, readers, outsiders []participant) error {
	p, err := r.resolve(publisher, seq, message.TaggedPacket)
	if err != nil {
		return err
	}
	for _, who := range readers {
		got, err := who.UnwrapTaggedPacket(p)
		if err != nil {
			return r.abort(who, "unwrap tagged packet", p.Header.Link, err)
		}
		if err := r.checkPayload(who, "unwrap tagged packet", p.Header.Link, got); err != nil {
			return err
		}
	}
	for _, who := range outsiders {
		if err := r.expectDenied(who, "unwrap tagged packet", p, func() error {
			_, err := who.UnwrapTaggedPacket(p)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) readSigned(who participant, p *message.Preparsed) error {
	signer, got, err := who.UnwrapSignedPacket(p)
	if err != nil {
		return r.abort(who, "unwrap signed packet", p.Header.Link, err)
	}
	if !signer.Equal(r.author.Identity()) {
		if err := r.failed(who, "unwrap signed packet", p.Header.Link, r.expectation(who, "signer is not the author")); err != nil {
			return err
		}
	}
	return r.checkPayload(who, "unwrap signed packet", p.Header.Link, got)
}

func (r *run) checkPayload(who participant, action string, at link.Link, got message.Payload) error {
	switch {
	case !bytes.Equal(got.Public, PublicPayload):
		return r.failed(who, action, at, r.expectation(who, "public payloads do not match"))
	case !bytes.Equal(got.Masked, MaskedPayload):
		return r.failed(who, action, at, r.expectation(who, "masked payloads do not match"))
	}
	r.ok(who, action, at)
	return nil
}

// fetch runs FetchNext for who. Denials are expected along the way and only
// recorded; transport failures stop the run.
func (r *run) fetch(who participant) error {
	got, err := who.FetchNext(r.ctx, r.t)
	if err != nil {
		return r.abort(who, "fetch", link.Link{}, err)
	}
	for _, m := range got {
		action := "fetch " + m.ContentType.String()
		switch {
		case m.Err == nil:
			r.ok(who, action, m.Link)
		case errors.Is(m.Err, channel.ErrNotAuthorized):
			r.record(who, action, m.Link, model.OutcomeDenied, m.Err)
		default:
			r.record(who, action, m.Link, model.OutcomeFailed, m.Err)
		}
	}
	r.log.Debug().Str("actor", r.names[who]).Int("messages", len(got)).Msg("fetched")
	return nil
}

func (r *run) expectDenied(who participant, action string, p *message.Preparsed, try func() error) error {
	err := try()
	if errors.Is(err, channel.ErrNotAuthorized) {
		r.record(who, action, p.Header.Link, model.OutcomeDenied, err)
		return nil
	}
	if err == nil {
		err = r.expectation(who, "should not be able to "+action)
	}
	return r.failed(who, action, p.Header.Link, err)
}

func (r *run) send(msgs ...*message.Binary) error {
	for _, m := range msgs {
		if err := r.t.Send(r.ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) receive(l link.Link, want message.ContentType) (*message.Preparsed, error) {
	msg, err := r.t.Receive(r.ctx, l)
	if err != nil {
		return nil, err
	}
	p, err := msg.ParseHeader()
	if err != nil {
		return nil, err
	}
	if !p.CheckContentType(want) {
		return nil, fmt.Errorf("%w: wrong message type: %s, want %s", ErrExpectation, p.Header.ContentType, want)
	}
	return p, nil
}

func (r *run) expectation(who participant, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrExpectation, r.names[who], msg)
}

// step records an outcome for an operation whose failure ends the run.
func (r *run) step(who participant, action string, at link.Link, err error) error {
	if err != nil {
		return r.abort(who, action, at, err)
	}
	r.ok(who, action, at)
	return nil
}

func (r *run) ok(who participant, action string, at link.Link) {
	r.record(who, action, at, model.OutcomeOK, nil)
}

// failed records a failed expectation. In strict mode the run stops.
func (r *run) failed(who participant, action string, at link.Link, err error) error {
	r.record(who, action, at, model.OutcomeFailed, err)
	if r.first == nil {
		r.first = err
	}
	if r.cfg.Mode == Strict {
		return err
	}
	return nil
}

// abort records a failure that later steps cannot recover from.
func (r *run) abort(who participant, action string, at link.Link, err error) error {
	r.record(who, action, at, model.OutcomeFailed, err)
	if r.first != nil {
		return r.first
	}
	return err
}

func (r *run) record(who participant, action string, at link.Link, outcome model.Outcome, err error) {
	s := model.Step{Actor: r.names[who], Action: action, Outcome: outcome}
	if !at.IsZero() {
		s.Link = at.String()
	}
	if err != nil {
		s.Error = coded(err)
	}
	r.report.Steps = append(r.report.Steps, s)

	ev := r.log.Debug()
	if outcome == model.OutcomeFailed {
		ev = r.log.Warn().Err(err)
	}
	ev.Str("actor", s.Actor).Str("action", action).Str("outcome", string(outcome)).Msg("step")

	if r.cfg.Dump != nil {
		fmt.Fprintf(r.cfg.Dump, "%s %s [%s]\n%s", s.Actor, action, outcome, who.String())
	}
}

func coded(err error) *model.CodedError {
	code := model.ErrInternal
	switch {
	case errors.Is(err, ErrExpectation):
		code = model.ErrProtocol
	case ledger.IsNotFound(err):
		code = model.ErrNotFound
	case channel.IsKind(err, channel.KindAuthorization):
		code = model.ErrNotAuthorized
	case channel.IsKind(err, channel.KindProtocol):
		code = model.ErrProtocol
	case channel.IsKind(err, channel.KindCrypto):
		code = model.ErrCrypto
	case channel.IsKind(err, channel.KindTransport):
		code = model.ErrTransport
	case channel.IsKind(err, channel.KindState):
		code = model.ErrState
	}
	return model.NewError(code, err.Error())
}
