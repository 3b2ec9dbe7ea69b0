package changefeed

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func event(table string, op Op, id string) Event {
	raw, _ := json.Marshal(map[string]string{"id": id})
	return Event{Table: table, Op: op, Row: raw}
}

func drain(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("канал закрыт после %d из %d событий", len(out), n)
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("дождались только %d из %d событий", len(out), n)
		}
	}
	return out
}

func TestBrokerTableFilter(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	all := b.Subscribe(ctx)
	defer all.Close()
	onlyMessages := b.Subscribe(ctx, TableMessages)
	defer onlyMessages.Close()

	b.Publish(event(TableMessages, OpInsert, "m-1"))
	b.Publish(event(TableReactions, OpInsert, "r-1"))
	b.Publish(event(TableMessages, OpUpdate, "m-1"))

	got := drain(t, onlyMessages, 2)
	if got[0].Op != OpInsert || got[1].Op != OpUpdate {
		t.Errorf("фильтрованная подписка получила %v, %v", got[0].Op, got[1].Op)
	}
	for _, ev := range got {
		if ev.Table != TableMessages {
			t.Errorf("в подписку на %s попало событие %s", TableMessages, ev.Table)
		}
	}

	if got := drain(t, all, 3); got[1].Table != TableReactions {
		t.Errorf("подписка без фильтра: второе событие %s, ожидали %s", got[1].Table, TableReactions)
	}
}

func TestBrokerCloseStopsDelivery(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(context.Background(), TableMessages)

	b.Publish(event(TableMessages, OpInsert, "m-1"))
	drain(t, sub, 1)

	sub.Close()
	sub.Close() // повторный Close безопасен

	// После Close публикация не должна паниковать, а канал — закрыт.
	b.Publish(event(TableMessages, OpInsert, "m-2"))
	if _, ok := <-sub.Events(); ok {
		t.Error("после Close канал событий должен быть закрыт")
	}
}

func TestBrokerContextCancelClosesSubscription(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, TableMessages)

	cancel()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("отмена контекста не закрыла подписку")
		}
	}
}

func TestBrokerDropsOnFullBuffer(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(context.Background(), TableMessages)
	defer sub.Close()

	// Потребитель не читает: буфер заполняется, лишнее молча теряется.
	for i := 0; i < subscriptionBufSize+10; i++ {
		b.Publish(event(TableMessages, OpInsert, "m"))
	}

	got := 0
	for {
		select {
		case <-sub.Events():
			got++
		default:
			if got != subscriptionBufSize {
				t.Errorf("в буфере %d событий, ожидали ровно %d", got, subscriptionBufSize)
			}
			return
		}
	}
}

func TestDecodeRows(t *testing.T) {
	author := "u-1"
	raw, _ := json.Marshal(MessageRow{
		ID:          "m-1",
		ContainerID: "room-1",
		AuthorID:    &author,
		Kind:        "normal",
		Body:        "привет",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	row, err := DecodeMessageRow(raw)
	if err != nil {
		t.Fatalf("DecodeMessageRow: %v", err)
	}
	if row.ID != "m-1" || row.AuthorID == nil || *row.AuthorID != "u-1" {
		t.Errorf("row = %+v", row)
	}

	if _, err := DecodeMessageRow(json.RawMessage(`{"id":`)); err == nil {
		t.Error("битый JSON должен давать ошибку")
	}
}
