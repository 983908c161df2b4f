package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// WSSource opens streams over a Solana WebSocket connection.
type WSSource struct {
	client *ws.Client
}

// ConnectWS dials the WebSocket endpoint.
func ConnectWS(ctx context.Context, endpoint string) (*WSSource, error) {
	client, err := ws.Connect(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect websocket %s: %w", endpoint, err)
	}
	return &WSSource{client: client}, nil
}

// SubscribeLogs opens a mentions-filtered log subscription.
func (s *WSSource) SubscribeLogs(program solana.PublicKey, commitment rpc.CommitmentType) (LogStream, error) {
	sub, err := s.client.LogsSubscribeMentions(program, commitment)
	if err != nil {
		return nil, err
	}
	return &wsLogStream{sub: sub}, nil
}

// SubscribeSlots opens a slot subscription.
func (s *WSSource) SubscribeSlots() (SlotStream, error) {
	sub, err := s.client.SlotSubscribe()
	if err != nil {
		return nil, err
	}
	return &wsSlotStream{sub: sub}, nil
}

// Close drops the underlying WebSocket connection.
func (s *WSSource) Close() {
	s.client.Close()
}

type wsLogStream struct {
	sub *ws.LogSubscription
}

func (s *wsLogStream) Recv(ctx context.Context) (*LogEvent, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return &LogEvent{
		Slot:      res.Context.Slot,
		Signature: res.Value.Signature,
		Logs:      res.Value.Logs,
		Failed:    res.Value.Err != nil,
	}, nil
}

func (s *wsLogStream) Unsubscribe() {
	s.sub.Unsubscribe()
}

type wsSlotStream struct {
	sub *ws.SlotSubscription
}

func (s *wsSlotStream) Recv(ctx context.Context) (*SlotEvent, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return &SlotEvent{Slot: res.Slot, Parent: res.Parent, Root: res.Root}, nil
}

func (s *wsSlotStream) Unsubscribe() {
	s.sub.Unsubscribe()
}
