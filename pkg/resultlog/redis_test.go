package resultlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/mysqlwriter/pkg/config"
	"github.com/ruslano69/mysqlwriter/pkg/pipeline"
)

func sampleResult(errMsg string) *pipeline.Result {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	res := &pipeline.Result{
		Status:     pipeline.StatusSuccess,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		DurationMs: 1500,
		Tables: []pipeline.TableResult{
			{TableID: "users", Destination: "users", Mode: pipeline.ModeFull, Stage: pipeline.StageLoaded, Bytes: 120},
			{TableID: "orders", Destination: "orders", Mode: pipeline.ModeIncremental, Stage: pipeline.StageCleaned, Bytes: 30},
		},
	}
	if errMsg != "" {
		res.Status = pipeline.StatusFailed
		res.Error = &errMsg
	}
	return res
}

func TestPublish_SetsStateWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	p := NewRedisPublisher(config.ResultLogConfig{Type: "redis", Address: mr.Addr(), Name: "crm", TTL: 60})
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), "app", sampleResult("")))

	raw, err := mr.Get("mysqlwriter:crm:state")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, mr.TTL("mysqlwriter:crm:state"))

	var got WriterResult
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "crm", got.ResultName)
	assert.Equal(t, "app", got.Database)
	assert.Equal(t, pipeline.StatusSuccess, got.Status)
	assert.Equal(t, int64(150), got.BytesLoaded)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.Len(t, got.Tables, 2)
	assert.Nil(t, got.Error)
	assert.Contains(t, raw, `"stage":"cleaned"`)
}

func TestPublish_FailedResult(t *testing.T) {
	mr := miniredis.RunT(t)
	p := NewRedisPublisher(config.ResultLogConfig{Address: mr.Addr(), Name: "crm", TTL: 60})
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), "app", sampleResult("Access denied for writer@db:3306/app")))

	raw, err := mr.Get(p.StateKey())
	require.NoError(t, err)

	var got WriterResult
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, pipeline.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "Access denied")
}

func TestPublish_NotifiesSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	p := NewRedisPublisher(config.ResultLogConfig{Address: mr.Addr(), Name: "crm", TTL: 60})
	defer p.Close()

	ctx := context.Background()
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, p.Channel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, "app", sampleResult("")))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "mysqlwriter:crm", msg.Channel)
		assert.Contains(t, msg.Payload, `"result_name":"crm"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestPublish_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	p := NewRedisPublisher(config.ResultLogConfig{Address: addr, Name: "crm", TTL: 60})
	defer p.Close()

	err := p.Publish(context.Background(), "app", sampleResult(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis SET failed")
}
