package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ReportSummary is the retained message published to {prefix}/report.
// The beacon list is omitted; it is served over HTTP.
type ReportSummary struct {
	RunID            string             `json:"runId"`
	BeaconCount      int                `json:"beaconCount"`
	MaxScannerSpread int                `json:"maxScannerSpread"`
	Passes           int                `json:"passes"`
	Scanners         []ScannerPlacement `json:"scanners"`
	Timestamp        int64              `json:"timestamp"`
}

// MergeFailure is published to {prefix}/error when a merge gets stuck.
type MergeFailure struct {
	Error      string `json:"error"`
	Unresolved []int  `json:"unresolved,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Publisher publishes merge results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          *ReportSummary
	mu            sync.RWMutex
}

// NewPublisher creates a new report publisher.
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "beaconmesh"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true, // late subscribers get the latest report
	}
}

// SetPrefix overrides the topic prefix
func (p *Publisher) SetPrefix(prefix string) {
	if prefix != "" {
		p.publishPrefix = prefix
	}
}

// Prefix returns the topic prefix
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishReport publishes the report summary to {prefix}/report and each
// scanner placement to {prefix}/scanner/{id}.
func (p *Publisher) PublishReport(r *Report) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	summary := &ReportSummary{
		RunID:            r.RunID,
		BeaconCount:      r.BeaconCount,
		MaxScannerSpread: r.MaxScannerSpread,
		Passes:           r.Passes,
		Scanners:         r.Scanners,
		Timestamp:        time.Now().Unix(),
	}

	if err := p.publishJSON(fmt.Sprintf("%s/report", p.publishPrefix), summary); err != nil {
		return err
	}
	for _, s := range r.Scanners {
		if err := p.publishJSON(fmt.Sprintf("%s/scanner/%d", p.publishPrefix, s.ID), s); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.last = summary
	p.mu.Unlock()

	log.Printf("[MQTT] published report %s: %d beacons, spread %d",
		r.RunID, r.BeaconCount, r.MaxScannerSpread)
	return nil
}

// PublishFailure publishes a merge error to {prefix}/error (not retained).
func (p *Publisher) PublishFailure(err error) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	failure := MergeFailure{Error: err.Error(), Timestamp: time.Now().Unix()}
	var stuck *StuckError
	if errors.As(err, &stuck) {
		failure.Unresolved = stuck.Unresolved
	}

	payload, mErr := json.Marshal(failure)
	if mErr != nil {
		return fmt.Errorf("marshaling failure: %w", mErr)
	}
	topic := fmt.Sprintf("%s/error", p.publishPrefix)
	token := p.client.Publish(topic, p.qos, false, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) publishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastSummary returns the most recently published summary
func (p *Publisher) LastSummary() (*ReportSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.last != nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published reports are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
