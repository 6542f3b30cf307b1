package spec

import "slices"

// Kind names the family of worker a service runs. A kind supplies the
// preference keys, defaults and, for the forwarder, the config template and
// admin command namespace that a spec does not spell out itself.
type Kind string

const (
	KindForwarder  Kind = "forwarder"
	KindHTTP       Kind = "http"
	KindDownloader Kind = "downloader"
	KindGeneric    Kind = "generic"
)

// ForwarderTemplate is the config a forwarder gets when its spec names no
// template: a local control listener, one UDP listener on the chosen source
// address, one connection to the next hop and a route for the prefix.
const ForwarderTemplate = "add listener tcp local0 127.0.0.1 9695\n" +
	"add listener udp remote0 %%source_ip%% %%source_port%%\n" +
	"add connection udp conn0 %%next_hop_ip%% %%next_hop_port%% %%source_ip%% %%source_port%%\n" +
	"add route conn0 %%prefix%% 1"

// ForwarderCommand launches the forwarder daemon on its rendered config.
const ForwarderCommand = "metis_daemon --port 9695 --capacity %%cs_size%% --config %%config_path%%"

// HTTPTemplate is the key=value config read by the built-in HTTP worker.
const HTTPTemplate = "root_folder=%%root_folder%%\n" +
	"port=%%port%%\n" +
	"url_prefix=%%url_prefix%%\n" +
	"upstream_proxy=%%upstream_proxy%%\n"

// DownloaderTemplate is the key=value config read by downloader workers.
const DownloaderTemplate = "url=%%url%%\n" +
	"download_path=%%download_path%%\n"

type kindInfo struct {
	keys     []string
	defaults map[string]string
	template string
	command  string
	entry    string
}

var kinds = map[Kind]kindInfo{
	KindForwarder: {
		keys: []string{
			"source_network_interface",
			"source_ip",
			"source_port",
			"next_hop_ip",
			"next_hop_port",
			"prefix",
			"cs_size",
		},
		defaults: map[string]string{
			"source_port":   "11111",
			"next_hop_port": "11111",
			"prefix":        "ccnx:/webserver",
			"cs_size":       "1000",
		},
		template: ForwarderTemplate,
		command:  ForwarderCommand,
	},
	KindHTTP: {
		keys: []string{"root_folder", "port", "url_prefix", "upstream_proxy"},
		defaults: map[string]string{
			"port":           "8080",
			"url_prefix":     "/",
			"upstream_proxy": "",
		},
		template: HTTPTemplate,
		entry:    "http",
	},
	KindDownloader: {
		keys:     []string{"url", "download_path"},
		defaults: map[string]string{"download_path": "downloads"},
		template: DownloaderTemplate,
	},
	KindGeneric: {},
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Keys returns the preference keys the kind reads at start.
func (k Kind) Keys() []string {
	return slices.Clone(kinds[k].keys)
}

// Defaults returns the kind's default preference values.
func (k Kind) Defaults() map[string]string {
	out := make(map[string]string, len(kinds[k].defaults))
	for key, v := range kinds[k].defaults {
		out[key] = v
	}
	return out
}

// Template returns the kind's built-in config template, if any.
func (k Kind) Template() string {
	return kinds[k].template
}

// Command returns the kind's default native command line, if any.
func (k Kind) Command() string {
	return kinds[k].command
}

// Entry returns the kind's built-in in-process worker, if any.
func (k Kind) Entry() string {
	return kinds[k].entry
}
