// Copyright 2023 The go-cbdc Authors
// This file is part of the go-cbdc library.
//
// The go-cbdc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-cbdc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-cbdc library. If not, see <http://www.gnu.org/licenses/>.

// Package blockfeed publishes sealed blocks to Kafka for downstream
// consumers (analytics, reconciliation, external auditors).
package blockfeed

import (
	"encoding/binary"

	"github.com/Shopify/sarama"

	"github.com/opencbdc/go-cbdc/atomizer"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

var logger = log.NewModuleLogger(log.Datasync)

const (
	// DefaultTopic is the topic blocks are published to.
	DefaultTopic = "cbdc.blocks"

	defaultReplicas = 1
)

// Config configures the Kafka producer.
type Config struct {
	SaramaConfig *sarama.Config
	Brokers      []string
	Topic        string
}

// GetDefaultConfig returns a workable producer configuration.
func GetDefaultConfig(brokers []string) *Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	return &Config{
		SaramaConfig: config,
		Brokers:      brokers,
		Topic:        DefaultTopic,
	}
}

// Feed publishes serialized blocks keyed by height.
type Feed struct {
	config   *Config
	producer sarama.SyncProducer
}

// NewFeed connects a producer to the configured brokers.
func NewFeed(config *Config) (*Feed, error) {
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	producer, err := sarama.NewSyncProducer(config.Brokers, config.SaramaConfig)
	if err != nil {
		return nil, err
	}
	logger.Info("Block feed connected", "brokers", config.Brokers, "topic", config.Topic)
	return &Feed{config: config, producer: producer}, nil
}

// PublishBlock implements archiver.BlockSink.
func (f *Feed) PublishBlock(blk *atomizer.Block) error {
	value, err := binenc.Marshal(blk)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, blk.Height)

	partition, offset, err := f.producer.SendMessage(&sarama.ProducerMessage{
		Topic: f.config.Topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return err
	}
	logger.Debug("Published block", "height", blk.Height, "partition", partition, "offset", offset)
	return nil
}

// Close shuts the producer down.
func (f *Feed) Close() error {
	return f.producer.Close()
}
