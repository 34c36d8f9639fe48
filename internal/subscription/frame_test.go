package subscription

import (
	"testing"
)

const signalFrame = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><base href="https://127.0.0.1:443/"/></head>
<body>
<div class="state">
<a href="subscription/3" rel="group"></a>
<ul>
<li class="ios-signalstate-ev" title="signal">
<a href="/rw/iosystem/signals/Local/DRV_1/DI%201;state" rel="self"></a>
<span class="lvalue">1</span>
<span class="lstate">not simulated</span>
</li>
<li class="rap-ctrlexecstate-ev" title="execution">
<a href="/rw/rapid/execution" rel="self"></a>
<span class="ctrlexecstate">running</span>
</li>
<li class="elog-message-ev" title="message">
<a href="/rw/elog/0/42?lang=en" rel="self"></a>
<span class="seqnum">42</span>
</li>
</ul>
</div>
</body>
</html>`

func TestDecodeFrame(t *testing.T) {
	items, err := decodeFrame([]byte(signalFrame))
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("decodeFrame() returned %d items, want 3", len(items))
	}

	if items[0].resource != "/rw/iosystem/signals/Local/DRV_1/DI 1;state" {
		t.Errorf("items[0].resource = %q, want URL-decoded signal path", items[0].resource)
	}
	if items[0].event["lvalue"] != "1" || items[0].event["lstate"] != "not simulated" {
		t.Errorf("items[0].event = %v", items[0].event)
	}

	if items[1].resource != ExecutionStateResource {
		t.Errorf("items[1].resource = %q, want %q", items[1].resource, ExecutionStateResource)
	}
	if items[1].event["ctrlexecstate"] != "running" {
		t.Errorf("items[1].event = %v", items[1].event)
	}

	if items[2].resource != "/rw/elog/0/42" {
		t.Errorf("items[2].resource = %q, want query dropped", items[2].resource)
	}
}

func TestDecodeFrame_InnerHTMLKeepsMarkup(t *testing.T) {
	frame := `<ul><li><a href="/rw/elog/1"></a><span class="title">a <b>bold</b> move</span></li></ul>`
	items, err := decodeFrame([]byte(frame))
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("decodeFrame() returned %d items, want 1", len(items))
	}
	if got := items[0].event["title"]; got != "a <b>bold</b> move" {
		t.Errorf("title = %q, want inner markup preserved", got)
	}
}

func TestDecodeFrame_ItemWithoutResourceDropped(t *testing.T) {
	items, err := decodeFrame([]byte(`<ul><li><span class="x">1</span></li></ul>`))
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("decodeFrame() = %v, want no items", items)
	}
}

func TestResourceFromHref(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"/rw/panel/ctrl-state", "/rw/panel/ctrl-state"},
		{"/rw/rapid/symbol/RAPID/T_ROB1/user/reg1;value", "/rw/rapid/symbol/RAPID/T_ROB1/user/reg1;value"},
		{"https://192.168.125.1/rw/panel/opmode?x=1", "/rw/panel/opmode"},
		{"/rw/iosystem/signals/a%2Fb;state", "/rw/iosystem/signals/a/b;state"},
	}
	for _, tt := range tests {
		if got := resourceFromHref(tt.href); got != tt.want {
			t.Errorf("resourceFromHref(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestNormalizeResource(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"rapid symbol gains value suffix", "/rw/rapid/symbol/RAPID/T/M/x", "/rw/rapid/symbol/RAPID/T/M/x;value"},
		{"rapid symbol with suffix untouched", "/rw/rapid/symbol/RAPID/T/M/x;value", "/rw/rapid/symbol/RAPID/T/M/x;value"},
		{"bare symbol path", "RAPID/T/M/x", "/rw/rapid/symbol/RAPID/T/M/x;value"},
		{"bare symbol path with suffix", "/RAPID/T/M/x;value", "/rw/rapid/symbol/RAPID/T/M/x;value"},
		{"elog sequence truncated", "/rw/elog/3/1234", "/rw/elog/3"},
		{"elog domain untouched", "/rw/elog/3", "/rw/elog/3"},
		{"leading slash added", "rw/panel/opmode", "/rw/panel/opmode"},
		{"signal untouched", "/rw/iosystem/signals/DI1;state", "/rw/iosystem/signals/DI1;state"},
		{"blank", "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeResource(tt.in); got != tt.want {
				t.Errorf("normalizeResource(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
		wantURL  string
		wantID   string
		wantErr  bool
	}{
		{"absolute wss", "wss://192.168.125.1/poll/7", "wss://192.168.125.1/poll/7", "7", false},
		{"http upgraded", "http://robot:80/poll/12", "ws://robot:80/poll/12", "12", false},
		{"relative", "/poll/3", "ws://robot/poll/3", "3", false},
		{"trailing slash", "ws://robot/poll/4/", "ws://robot/poll/4/", "4", false},
		{"empty", "", "", "", true},
		{"no poll segment", "ws://robot/subscription/4", "", "", true},
		{"bad scheme", "ftp://robot/poll/1", "", "", true},
	}

	base := mustParseURL(t, "http://robot")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotURL, gotID, err := parseLocation(tt.location, base)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLocation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if gotURL != tt.wantURL || gotID != tt.wantID {
				t.Errorf("parseLocation() = (%q, %q), want (%q, %q)", gotURL, gotID, tt.wantURL, tt.wantID)
			}
		})
	}
}
