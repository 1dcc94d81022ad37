// Package oura syncs Oura ring daily metrics: activity and sleep scores with
// their contributor breakdowns, and individual sleep periods with stage
// durations. Authentication is a personal access token sent as a bearer
// credential.
package oura

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
)

const (
	baseURL = "https://api.ouraring.com"

	// windowDays is the date-window size per page. Oura accepts ranges up
	// to a month; 29 keeps each request inside that.
	windowDays      = 29
	defaultDaysBack = 29

	InstanceDailyActivity types.InstanceType = "daily_activity"
	InstanceDailySleep    types.InstanceType = "daily_sleep"
	InstanceSleepPeriods  types.InstanceType = "sleep_periods"
)

var endpoints = map[types.InstanceType]string{
	InstanceDailyActivity: "/v2/usercollection/daily_activity",
	InstanceDailySleep:    "/v2/usercollection/daily_sleep",
	InstanceSleepPeriods:  "/v2/usercollection/sleep",
}

type Plugin struct {
	now func() time.Time
}

var _ interfaces.Plugin = &Plugin{}

type Option func(*Plugin)

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

func New(opts ...Option) *Plugin {
	p := &Plugin{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Service() types.Service {
	return types.ServiceOura
}

func (p *Plugin) Instances() []model.InstanceSpec {
	defaults := model.SyncConfig{
		UpdateFrequencyMinutes: 240,
		DaysBack:               defaultDaysBack,
	}
	return []model.InstanceSpec{
		{Type: string(InstanceDailyActivity), DefaultConfig: defaults},
		{Type: string(InstanceDailySleep), DefaultConfig: defaults},
		{Type: string(InstanceSleepPeriods), DefaultConfig: defaults},
	}
}

func (p *Plugin) BaseURL() string {
	return baseURL
}

func (p *Plugin) AuthScheme() types.AuthScheme {
	return types.AuthSchemeBearer
}

func (p *Plugin) InitialCursor(integration *model.Integration, now time.Time) (json.RawMessage, error) {
	daysBack := integration.Config.DaysBack
	if daysBack <= 0 {
		daysBack = defaultDaysBack
	}
	return model.MarshalCursor(model.NewDateWindowCursor(now, daysBack, windowDays))
}

type listResponse struct {
	Data []json.RawMessage `json:"data"`
}

func (p *Plugin) FetchPage(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error) {
	endpoint, ok := endpoints[integration.InstanceType]
	if !ok {
		return nil, goerr.New("unknown oura instance type", goerr.V("instance_type", integration.InstanceType))
	}

	var window model.DateWindowCursor
	if err := json.Unmarshal(cursor, &window); err != nil {
		return nil, goerr.Wrap(err, "failed to decode date window cursor")
	}

	query := url.Values{
		"start_date": []string{window.Start.Format("2006-01-02")},
		"end_date":   []string{window.End.Format("2006-01-02")},
	}

	resp, err := client.Do(ctx, "GET", endpoint, query, nil)
	if err != nil {
		return nil, err
	}
	if err := plugin.CheckResponse(resp, endpoint); err != nil {
		return nil, err
	}

	var body listResponse
	if err := resp.Decode(&body); err != nil {
		return nil, goerr.Wrap(types.ErrProviderData, "failed to decode oura list response", goerr.V("endpoint", endpoint))
	}

	next, err := model.MarshalCursor(cursorOrNil(window.Advance(p.now())))
	if err != nil {
		return nil, err
	}

	return &model.Page{Items: body.Data, Next: next}, nil
}

// cursorOrNil keeps a typed-nil cursor from becoming a non-nil any
func cursorOrNil(c *model.DateWindowCursor) any {
	if c == nil {
		return nil
	}
	return c
}

func (p *Plugin) Normalize(ctx context.Context, integration *model.Integration, item json.RawMessage) ([]*model.EventDraft, error) {
	var (
		draft *model.EventDraft
		err   error
	)
	switch integration.InstanceType {
	case InstanceDailyActivity:
		draft, err = p.normalizeDailyActivity(integration, item)
	case InstanceDailySleep:
		draft, err = p.normalizeDailySleep(integration, item)
	case InstanceSleepPeriods:
		draft, err = p.normalizeSleepPeriod(integration, item)
	default:
		return nil, goerr.New("unknown oura instance type", goerr.V("instance_type", integration.InstanceType))
	}
	if err != nil {
		return nil, err
	}
	return []*model.EventDraft{draft}, nil
}

type dailyActivity struct {
	Day            string             `json:"day"`
	Score          *float64           `json:"score"`
	Contributors   map[string]float64 `json:"contributors"`
	Steps          *float64           `json:"steps"`
	ActiveCalories *float64           `json:"active_calories"`
}

func (p *Plugin) normalizeDailyActivity(integration *model.Integration, item json.RawMessage) (*model.EventDraft, error) {
	var record dailyActivity
	if err := json.Unmarshal(item, &record); err != nil {
		return nil, goerr.Wrap(err, "failed to decode daily activity item")
	}
	day, err := parseDay(record.Day)
	if err != nil {
		return nil, err
	}

	value, mult := model.EncodeValue(record.Score, 1)

	blocks := contributorBlocks(record.Contributors, day)
	if b := numberBlock("Steps", record.Steps, "count", day); b != nil {
		blocks = append(blocks, *b)
	}
	if b := numberBlock("Active Calories", record.ActiveCalories, "kcal", day); b != nil {
		blocks = append(blocks, *b)
	}

	return &model.EventDraft{
		SourceID:        fmt.Sprintf("oura_activity_%s_%s", integration.ID, record.Day),
		Service:         types.ServiceOura,
		Domain:          "health",
		Action:          "had_activity_score",
		Time:            day,
		Actor:           accountObject(),
		Target:          dayObject("daily_activity", "Activity "+record.Day, day),
		Value:           value,
		ValueMultiplier: mult,
		ValueUnit:       "percent",
		Blocks:          blocks,
	}, nil
}

type dailySleep struct {
	Day          string             `json:"day"`
	Score        *float64           `json:"score"`
	Contributors map[string]float64 `json:"contributors"`
}

func (p *Plugin) normalizeDailySleep(integration *model.Integration, item json.RawMessage) (*model.EventDraft, error) {
	var record dailySleep
	if err := json.Unmarshal(item, &record); err != nil {
		return nil, goerr.Wrap(err, "failed to decode daily sleep item")
	}
	day, err := parseDay(record.Day)
	if err != nil {
		return nil, err
	}

	value, mult := model.EncodeValue(record.Score, 1)

	return &model.EventDraft{
		SourceID:        fmt.Sprintf("oura_sleep_%s_%s", integration.ID, record.Day),
		Service:         types.ServiceOura,
		Domain:          "health",
		Action:          "had_sleep_score",
		Time:            day,
		Actor:           accountObject(),
		Target:          dayObject("daily_sleep", "Sleep "+record.Day, day),
		Value:           value,
		ValueMultiplier: mult,
		ValueUnit:       "percent",
		Blocks:          contributorBlocks(record.Contributors, day),
	}, nil
}

type sleepPeriod struct {
	ID                 string   `json:"id"`
	Day                string   `json:"day"`
	BedtimeStart       string   `json:"bedtime_start"`
	BedtimeEnd         string   `json:"bedtime_end"`
	TotalSleepDuration *float64 `json:"total_sleep_duration"`
	DeepSleepDuration  *float64 `json:"deep_sleep_duration"`
	LightSleepDuration *float64 `json:"light_sleep_duration"`
	REMSleepDuration   *float64 `json:"rem_sleep_duration"`
	AwakeTime          *float64 `json:"awake_time"`
}

func (p *Plugin) normalizeSleepPeriod(integration *model.Integration, item json.RawMessage) (*model.EventDraft, error) {
	var record sleepPeriod
	if err := json.Unmarshal(item, &record); err != nil {
		return nil, goerr.Wrap(err, "failed to decode sleep period item")
	}
	if record.ID == "" {
		return nil, goerr.New("sleep period missing id")
	}

	eventTime, err := time.Parse(time.RFC3339, record.BedtimeEnd)
	if err != nil {
		eventTime, err = parseDay(record.Day)
		if err != nil {
			return nil, err
		}
	}

	value, mult := model.EncodeValue(record.TotalSleepDuration, 1)

	var blocks []model.BlockDraft
	for _, stage := range []struct {
		title string
		value *float64
	}{
		{"Deep Sleep", record.DeepSleepDuration},
		{"Light Sleep", record.LightSleepDuration},
		{"REM Sleep", record.REMSleepDuration},
		{"Awake", record.AwakeTime},
	} {
		if b := stageBlock(stage.title, stage.value, eventTime); b != nil {
			blocks = append(blocks, *b)
		}
	}

	return &model.EventDraft{
		SourceID:        fmt.Sprintf("oura_sleep_period_%s_%s", integration.ID, record.ID),
		Service:         types.ServiceOura,
		Domain:          "health",
		Action:          "slept",
		Time:            eventTime,
		Actor:           accountObject(),
		Target:          dayObject("sleep_period", "Sleep Period "+record.Day, eventTime),
		Value:           value,
		ValueMultiplier: mult,
		ValueUnit:       "seconds",
		Metadata: map[string]any{
			"bedtime_start": record.BedtimeStart,
			"bedtime_end":   record.BedtimeEnd,
		},
		Blocks: blocks,
	}, nil
}

func parseDay(day string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, goerr.Wrap(err, "invalid oura day", goerr.V("day", day))
	}
	return t, nil
}

func accountObject() model.ObjectDraft {
	return model.ObjectDraft{
		Concept:    "account",
		ObjectType: "oura_account",
		Title:      "Oura",
	}
}

func dayObject(objectType, title string, t time.Time) *model.ObjectDraft {
	return &model.ObjectDraft{
		Concept:    "health_record",
		ObjectType: objectType,
		Title:      title,
		Time:       t,
	}
}

func contributorBlocks(contributors map[string]float64, t time.Time) []model.BlockDraft {
	blocks := make([]model.BlockDraft, 0, len(contributors))
	for _, key := range sortedKeys(contributors) {
		score := contributors[key]
		value, mult := model.EncodeFloat(score, 1)
		blocks = append(blocks, model.BlockDraft{
			BlockType:       "contributor",
			Title:           titleCase(key),
			Value:           value,
			ValueMultiplier: mult,
			ValueUnit:       "percent",
			Time:            t,
		})
	}
	return blocks
}

func numberBlock(title string, v *float64, unit string, t time.Time) *model.BlockDraft {
	value, mult := model.EncodeValue(v, 1)
	if value == nil {
		return nil
	}
	return &model.BlockDraft{
		BlockType:       "measurement",
		Title:           title,
		Value:           value,
		ValueMultiplier: mult,
		ValueUnit:       unit,
		Time:            t,
	}
}

func stageBlock(title string, v *float64, t time.Time) *model.BlockDraft {
	value, mult := model.EncodeValue(v, 1)
	if value == nil {
		return nil
	}
	return &model.BlockDraft{
		BlockType:       "sleep_stage",
		Title:           title,
		Value:           value,
		ValueMultiplier: mult,
		ValueUnit:       "seconds",
		Time:            t,
	}
}
