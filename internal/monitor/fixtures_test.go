package monitor

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeLauncher serves both upstream families from one httptest server.
// Bodies can be swapped between calls to simulate upstream changes.
type fakeLauncher struct {
	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	hits   map[string]*int32
	server *httptest.Server
}

func newFakeLauncher(t *testing.T) *fakeLauncher {
	t.Helper()
	f := &fakeLauncher{
		bodies: map[string]string{},
		status: map[string]int{},
		hits:   map[string]*int32{},
	}
	for _, p := range []string{"/getGameBranches", "/getGamePackages", "/getGames", "/getBuild", "/getPatchBuild", "/index.json"} {
		f.hits[p] = new(int32)
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeLauncher) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if c, ok := f.hits[path]; ok {
		atomic.AddInt32(c, 1)
	}
	if path == "/getPatchBuild" && r.Method != http.MethodPost {
		http.Error(w, "getPatchBuild must be POST", http.StatusMethodNotAllowed)
		return
	}
	f.mu.Lock()
	body, ok := f.bodies[path]
	status := f.status[path]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
	}
	fmt.Fprint(w, body)
}

func (f *fakeLauncher) set(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
	delete(f.status, path)
}

func (f *fakeLauncher) fail(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
	f.status[path] = status
}

func (f *fakeLauncher) count(path string) int {
	return int(atomic.LoadInt32(f.hits[path]))
}

func (f *fakeLauncher) endpoints() Endpoints {
	return Endpoints{
		HypConnectBase: f.server.URL,
		SophonBase:     f.server.URL,
		KuroIndexURL:   f.server.URL + "/index.json",
	}
}

func (f *fakeLauncher) adapter(t *testing.T, id ProductID) Adapter {
	t.Helper()
	a, err := NewAdapter(MustProduct(id), NewRetryableHTTPClient(), f.endpoints())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// setBranches publishes a hyp branch with the given main and pre tags.
// An empty pre omits the pre_download section.
func (f *fakeLauncher) setBranches(main, pre string) {
	preJSON := "null"
	if pre != "" {
		preJSON = fmt.Sprintf(`{"package_id":"pkgPre","branch":"pre_download","password":"pwPre","tag":%q,"diff_tags":[%q]}`, pre, main)
	}
	f.set("/getGameBranches", fmt.Sprintf(`{"retcode":0,"message":"OK","data":{"game_branches":[
		{"game":{"id":"1Z8W5NHUQb","biz":"hk4e_cn"},
		 "main":{"package_id":"pkgMain","branch":"main","password":"pwMain","tag":%q,"diff_tags":["5.0.0"]},
		 "pre_download":%s}]}}`, main, preJSON))
}

const sophonBuildJSON = `{"retcode":0,"message":"OK","data":{"build_id":"b1","tag":"5.1.0","manifests":[
	{"matching_field":"game","stats":{"compressed_size":"1000","uncompressed_size":"2000"},"deduplicated_stats":{"compressed_size":"900","uncompressed_size":"1800"}},
	{"matching_field":"zh-cn","stats":{"compressed_size":"100","uncompressed_size":"200"},"deduplicated_stats":{"compressed_size":"100","uncompressed_size":"200"}},
	{"matching_field":"en-us","stats":{"compressed_size":"500","uncompressed_size":"700"},"deduplicated_stats":{"compressed_size":"500","uncompressed_size":"700"}},
	{"matching_field":"JA-JP","stats":{"compressed_size":"500","uncompressed_size":"700"}}
]}}`

const sophonPatchJSON = `{"retcode":0,"message":"OK","data":{"build_id":"b1","tag":"5.1.0","manifests":[
	{"matching_field":"game","stats":{"5.0.0":{"compressed_size":"300","uncompressed_size":"512"},"4.8.0":{"uncompressed_size":"9999"}}},
	{"matching_field":"zh-cn","stats":{"5.0.0":{"compressed_size":"10","uncompressed_size":"512"}}},
	{"matching_field":"ko-kr","stats":{"5.0.0":{"uncompressed_size":"4096"}}}
]}}`

const hypPackagesJSON = `{"retcode":0,"message":"OK","data":{"game_packages":[{
	"game":{"id":"1Z8W5NHUQb","biz":"hk4e_cn"},
	"main":{
		"major":{"version":"5.1.0",
			"game_pkgs":[{"url":"https://cdn/main.zip.001","md5":"a","size":"1073741824","decompressed_size":"2147483648"},{"url":"https://cdn/main.zip.002","md5":"b","size":1024}],
			"audio_pkgs":[{"language":"zh-cn","url":"https://cdn/audio_zh.zip","md5":"c","size":"1536"}]},
		"patches":[{"version":"5.0.0","game_pkgs":[{"url":"https://cdn/patch.zip","md5":"d","size":"2048"}],"audio_pkgs":[]}]},
	"pre_download":{"major":null,"patches":[]}
}]}}`

const hypGamesJSON = `{"retcode":0,"message":"OK","data":{"games":[
	{"id":"other","biz":"x","display":{"icon":{"url":"https://img/other.png"}}},
	{"id":"1Z8W5NHUQb","biz":"hk4e_cn","display":{"name":"原神","icon":{"url":"https://img/ys.png"}}}
]}}`

func kuroIndexJSON(main, pre string) string {
	preJSON := "null"
	if pre != "" {
		preJSON = fmt.Sprintf(`{"config":{"indexFile":"/launcher/pre/indexFile.json","indexFileMd5":"p","size":"3072","version":%q,"patchConfig":[]}}`, pre)
	}
	return fmt.Sprintf(`{
		"cdnList":[{"url":"https://cdn.kuro.test///"}],
		"default":{"config":{"indexFile":"/launcher/main/indexFile.json","indexFileMd5":"m","size":"10240","version":%q,
			"patchConfig":[
				{"indexFile":"/patch/2.3.9.json","indexFileMd5":"x","size":"900","version":"2.3.9"},
				{"indexFile":"","size":"1","version":"2.4.0"},
				{"indexFile":"/patch/2.3.10.json","indexFileMd5":"y","size":"1100","version":"2.3.10"}
			]}},
		"predownload":%s}`, main, preJSON)
}
