// Package registry owns the mapping between WhatsApp conversations and the
// Telegram forum topics that mirror them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/logger"
	storetypes "wabridge/pkg/store/types"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrTopicCreationFailed means Telegram refused the topic even after the
	// uniquifying retry.
	ErrTopicCreationFailed = errors.New("topic creation failed")
	// ErrTopicsDisabled means the conversation has no topic and creation is turned off.
	ErrTopicsDisabled = errors.New("topic creation disabled")
)

// Store is the persistence the registry reads and writes.
type Store interface {
	SaveTopicMapping(ctx context.Context, mapping storetypes.TopicMapping) error
	TopicMappings(ctx context.Context) ([]storetypes.TopicMapping, error)
	SaveSpecialTopic(ctx context.Context, kind storetypes.SpecialKind, topicID int) error
	SpecialTopics(ctx context.Context) (storetypes.SpecialTopics, error)
}

// Destination is the part of the Telegram client topic provisioning uses.
type Destination interface {
	CreateTopic(ctx context.Context, name string, iconColor int) (int, error)
	SendText(ctx context.Context, topicID int, text string, opts channel.SendOptions) (int, error)
	SendMedia(ctx context.Context, topicID int, media channel.OutboundMedia, opts channel.SendOptions) (int, error)
	PinMessage(ctx context.Context, messageID int) error
}

// InfoSource supplies the details shown when a topic is provisioned.
type InfoSource interface {
	ConversationInfo(ctx context.Context, conversationID string) (channel.ConversationInfo, error)
	FetchProfileImage(ctx context.Context, conversationID string) (string, error)
}

// SnapshotRecorder remembers the profile picture posted on a new topic.
type SnapshotRecorder interface {
	Record(ctx context.Context, subjectID, url string) error
}

type Options struct {
	CreateTopics       bool
	SendInfoCard       bool
	SendProfilePicture bool
	Snapshots          SnapshotRecorder
	Events             *bus.MessageBus
	Now                func() time.Time
}

type entry struct {
	topicID   int
	name      string
	createdAt time.Time
}

// Registry is safe for concurrent use. Creation is serialized per
// conversation so concurrent first messages share one topic.
type Registry struct {
	store  Store
	dest   Destination
	source InfoSource
	opts   Options
	log    *slog.Logger

	mu             sync.RWMutex
	byConversation map[string]entry
	byTopic        map[int]string

	creating singleflight.Group
}

func New(store Store, dest Destination, source InfoSource, opts Options, log *slog.Logger) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		store:          store,
		dest:           dest,
		source:         source,
		opts:           opts,
		log:            logger.OrDiscard(log).With("component", "bridge.registry"),
		byConversation: make(map[string]entry),
		byTopic:        make(map[int]string),
	}
}

// Load replaces the in-memory mappings with the persisted ones.
func (r *Registry) Load(ctx context.Context) error {
	mappings, err := r.store.TopicMappings(ctx)
	if err != nil {
		return fmt.Errorf("load topic mappings: %w", err)
	}
	special, err := r.store.SpecialTopics(ctx)
	if err != nil {
		return fmt.Errorf("load special topics: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byConversation = make(map[string]entry, len(mappings)+len(special))
	r.byTopic = make(map[int]string, len(mappings)+len(special))

	for _, m := range mappings {
		r.setLocked(m.ConversationID, entry{topicID: m.TopicID, name: m.DisplayName, createdAt: m.CreatedAt})
	}
	for kind, topicID := range special {
		if topicID == 0 {
			continue
		}
		r.setLocked(string(kind), entry{topicID: topicID})
	}

	r.log.Info("Topic mappings loaded", "topics", len(mappings), "special", len(special))
	return nil
}

// setLocked installs e for convID and keeps both directions in agreement.
func (r *Registry) setLocked(convID string, e entry) {
	if previous, ok := r.byConversation[convID]; ok {
		delete(r.byTopic, previous.topicID)
	}
	if owner, ok := r.byTopic[e.topicID]; ok && owner != convID {
		r.log.Warn("Topic claimed by two conversations, keeping the newest", "topic_id", e.topicID,
			"previous_conversation_id", owner, "conversation_id", convID)
		delete(r.byConversation, owner)
	}

	r.byConversation[convID] = e
	r.byTopic[e.topicID] = convID
}

// Lookup returns the live topic of convID without creating one.
func (r *Registry) Lookup(convID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byConversation[convID]
	return e.topicID, ok
}

// ResolveConversation returns the conversation mirrored by topicID.
func (r *Registry) ResolveConversation(topicID int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	convID, ok := r.byTopic[topicID]
	return convID, ok
}

// Conversations lists every mapped contact and group, ordered by id.
func (r *Registry) Conversations() []channel.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	convs := make([]channel.Conversation, 0, len(r.byConversation))
	for id, e := range r.byConversation {
		conv := channel.Conversation{ID: id, Name: e.name}
		switch conv.Kind() {
		case channel.KindStatus, channel.KindCall:
			continue
		}
		convs = append(convs, conv)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })
	return convs
}

// Invalidate drops both directions of the mapping without contacting Telegram.
func (r *Registry) Invalidate(convID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byConversation[convID]; ok {
		delete(r.byTopic, e.topicID)
		delete(r.byConversation, convID)
	}
}

// invalidateIfCurrent drops the mapping only while it still points at stale.
// A concurrent relay may already have replaced it.
func (r *Registry) invalidateIfCurrent(convID string, stale int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byConversation[convID]
	if !ok || e.topicID != stale {
		return false
	}
	delete(r.byTopic, e.topicID)
	delete(r.byConversation, convID)
	return true
}

// ResolveOrCreate returns the topic of conv, provisioning one on first use.
func (r *Registry) ResolveOrCreate(ctx context.Context, conv channel.Conversation) (int, error) {
	if topicID, ok := r.Lookup(conv.ID); ok {
		return topicID, nil
	}
	if !r.opts.CreateTopics {
		return 0, fmt.Errorf("%w: %s", ErrTopicsDisabled, conv.ID)
	}

	// The creation is shared by every waiting caller, so it must outlive the
	// caller that happened to start it.
	flightCtx := context.WithoutCancel(ctx)
	results := r.creating.DoChan(conv.ID, func() (any, error) {
		if topicID, ok := r.Lookup(conv.ID); ok {
			return topicID, nil
		}
		return r.create(flightCtx, conv)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	}
}

func (r *Registry) create(ctx context.Context, conv channel.Conversation) (int, error) {
	if conv.Kind() == channel.KindIndividual && conv.Name == "" {
		conv.Name = "Contact " + conv.ID
	}
	log := r.log.With("conversation_id", conv.ID)

	name, color := topicName(conv)
	topicID, err := r.dest.CreateTopic(ctx, name, color)
	if channel.IsDuplicateName(err) {
		name = uniqueName(conv.Kind(), name, r.opts.Now().UnixMilli())
		log.Info("Topic name taken, retrying with suffix", "name", name)
		topicID, err = r.dest.CreateTopic(ctx, name, color)
	}
	if err != nil {
		log.Error("Topic creation failed", "name", name, "error", err)
		return 0, fmt.Errorf("%w: %s: %w", ErrTopicCreationFailed, conv.ID, err)
	}

	e := entry{topicID: topicID, name: conv.Name, createdAt: r.opts.Now().UTC()}
	r.mu.Lock()
	r.setLocked(conv.ID, e)
	r.mu.Unlock()

	r.persist(ctx, conv, e)
	log.Info("Topic created", "topic_id", topicID, "name", name)
	r.opts.Events.PublishEvent(ctx, bus.Event{
		Type:           bus.EventTopicCreated,
		ConversationID: conv.ID,
		TopicID:        topicID,
		Payload:        map[string]string{"name": name},
	})

	r.provision(ctx, conv, topicID)
	return topicID, nil
}

// persist failures keep the in-memory mapping; it is lost on restart.
func (r *Registry) persist(ctx context.Context, conv channel.Conversation, e entry) {
	var err error
	switch conv.Kind() {
	case channel.KindStatus:
		err = r.store.SaveSpecialTopic(ctx, storetypes.SpecialStatus, e.topicID)
	case channel.KindCall:
		err = r.store.SaveSpecialTopic(ctx, storetypes.SpecialCall, e.topicID)
	default:
		err = r.store.SaveTopicMapping(ctx, storetypes.TopicMapping{
			ConversationID: conv.ID,
			TopicID:        e.topicID,
			DisplayName:    e.name,
			CreatedAt:      e.createdAt,
		})
	}
	if err == nil {
		return
	}

	r.log.Warn("Topic mapping not persisted", "conversation_id", conv.ID, "topic_id", e.topicID, "error", err)
	r.opts.Events.PublishEvent(ctx, bus.Event{
		Type:           bus.EventPersistenceFail,
		ConversationID: conv.ID,
		TopicID:        e.topicID,
		Error:          err.Error(),
	})
}

// provision posts the one-time info card and profile picture. Failures are logged only.
func (r *Registry) provision(ctx context.Context, conv channel.Conversation, topicID int) {
	log := r.log.With("conversation_id", conv.ID, "topic_id", topicID)

	switch conv.Kind() {
	case channel.KindStatus, channel.KindCall:
		if !r.opts.SendInfoCard {
			return
		}
		text := statusInfoText
		if conv.Kind() == channel.KindCall {
			text = callInfoText
		}
		if _, err := r.dest.SendText(ctx, topicID, text, channel.SendOptions{}); err != nil {
			log.Warn("Special topic info not posted", "error", err)
		}
		return
	}

	if r.opts.SendInfoCard {
		r.postInfoCard(ctx, log, conv, topicID)
	}
	if r.opts.SendProfilePicture {
		r.postProfilePicture(ctx, log, conv, topicID)
	}
}

func (r *Registry) postInfoCard(ctx context.Context, log *slog.Logger, conv channel.Conversation, topicID int) {
	var info channel.ConversationInfo
	if r.source != nil {
		fetched, err := r.source.ConversationInfo(ctx, conv.ID)
		if err != nil {
			log.Debug("Conversation info unavailable", "error", err)
		} else {
			info = fetched
		}
	}

	card := contactCard(conv, info)
	if conv.Kind() == channel.KindGroup {
		card = groupCard(conv, info)
	}

	messageID, err := r.dest.SendText(ctx, topicID, card, channel.SendOptions{})
	if err != nil {
		log.Warn("Info card not posted", "error", err)
		return
	}
	if err := r.dest.PinMessage(ctx, messageID); err != nil {
		log.Warn("Info card not pinned", "message_id", messageID, "error", err)
	}
}

func (r *Registry) postProfilePicture(ctx context.Context, log *slog.Logger, conv channel.Conversation, topicID int) {
	if r.source == nil {
		return
	}

	url, err := r.source.FetchProfileImage(ctx, conv.ID)
	if err != nil {
		log.Debug("Profile picture unavailable", "error", err)
		return
	}
	if url == "" {
		return
	}

	_, err = r.dest.SendMedia(ctx, topicID, channel.OutboundMedia{
		Kind:    channel.MediaImage,
		URL:     url,
		Caption: profileCaption(conv),
	}, channel.SendOptions{})
	if err != nil {
		log.Warn("Profile picture not posted", "error", err)
		return
	}

	if r.opts.Snapshots != nil {
		if err := r.opts.Snapshots.Record(ctx, conv.ID, url); err != nil {
			log.Warn("Profile snapshot not recorded", "error", err)
		}
	}
}

// SendFunc performs one send into topicID.
type SendFunc func(ctx context.Context, topicID int) error

// Relay resolves the topic of conv and runs send. When Telegram reports the
// topic gone, the mapping is dropped, the topic recreated, and send retried once.
func (r *Registry) Relay(ctx context.Context, conv channel.Conversation, send SendFunc) error {
	topicID, err := r.ResolveOrCreate(ctx, conv)
	if err != nil {
		return err
	}

	err = send(ctx, topicID)
	if err == nil || !channel.IsTopicMissing(err) {
		return err
	}

	log := r.log.With("conversation_id", conv.ID, "topic_id", topicID)
	log.Warn("Topic missing, recreating", "error", err)

	invalidated := r.invalidateIfCurrent(conv.ID, topicID)
	newID, err := r.ResolveOrCreate(ctx, conv)
	if err != nil {
		return fmt.Errorf("recreate topic: %w", err)
	}
	if invalidated {
		r.opts.Events.PublishEvent(ctx, bus.Event{
			Type:           bus.EventTopicRecreated,
			ConversationID: conv.ID,
			TopicID:        newID,
			Payload:        map[string]string{"previous_topic_id": strconv.Itoa(topicID)},
		})
	}

	if err := send(ctx, newID); err != nil {
		return fmt.Errorf("send after recreating topic %d: %w", newID, err)
	}
	return nil
}
