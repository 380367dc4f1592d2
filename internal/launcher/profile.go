package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// automationPrefs quiet background services and enable the BiDi remote agent.
var automationPrefs = map[string]interface{}{
	"app.normandy.api_url":                                        "",
	"app.update.checkInstallTime":                                 false,
	"app.update.disabledForTesting":                               true,
	"apz.content_response_timeout":                                60000,
	"browser.contentblocking.features.standard":                   "-tp,tpPrivate,cookieBehavior0,-cm,-fp",
	"browser.dom.window.dump.enabled":                             true,
	"browser.newtabpage.activity-stream.feeds.system.topstories":  false,
	"browser.newtabpage.enabled":                                  false,
	"browser.pagethumbnails.capturing_disabled":                   true,
	"browser.safebrowsing.blockedURIs.enabled":                    false,
	"browser.safebrowsing.downloads.enabled":                      false,
	"browser.safebrowsing.malware.enabled":                        false,
	"browser.safebrowsing.phishing.enabled":                       false,
	"browser.search.update":                                       false,
	"browser.sessionstore.resume_from_crash":                      false,
	"browser.shell.checkDefaultBrowser":                           false,
	"browser.startup.homepage":                                    "about:blank",
	"browser.startup.homepage_override.mstone":                    "ignore",
	"browser.startup.page":                                        0,
	"browser.tabs.disableBackgroundZombification":                 false,
	"browser.tabs.warnOnCloseOtherTabs":                           false,
	"browser.tabs.warnOnOpen":                                     false,
	"browser.translations.automaticallyPopup":                     false,
	"browser.uitour.enabled":                                      false,
	"browser.urlbar.suggest.searches":                             false,
	"browser.usedOnWindows10.introURL":                            "",
	"browser.warnOnQuit":                                          false,
	"datareporting.healthreport.documentServerURI":                "http://dummy.test/dummy/healthreport/",
	"datareporting.healthreport.logging.consoleEnabled":           false,
	"datareporting.healthreport.service.enabled":                  false,
	"datareporting.healthreport.service.firstRun":                 false,
	"datareporting.healthreport.uploadEnabled":                    false,
	"datareporting.policy.dataSubmissionEnabled":                  false,
	"datareporting.policy.dataSubmissionPolicyBypassNotification": true,
	"devtools.jsonview.enabled":                                   false,
	"dom.disable_open_during_load":                                false,
	"dom.file.createInChild":                                      true,
	"dom.ipc.reportProcessHangs":                                  false,
	"dom.max_chrome_script_run_time":                              0,
	"dom.max_script_run_time":                                     0,
	"extensions.autoDisableScopes":                                0,
	"extensions.enabledScopes":                                    5,
	"extensions.getAddons.cache.enabled":                          false,
	"extensions.installDistroAddons":                              false,
	"extensions.screenshots.disabled":                             true,
	"extensions.update.enabled":                                   false,
	"extensions.update.notifyUser":                                false,
	"extensions.webservice.discoverURL":                           "http://dummy.test/dummy/discoveryURL",
	"fission.webContentIsolationStrategy":                         0,
	"focusmanager.testmode":                                       true,
	"general.useragent.updates.enabled":                           false,
	"geo.provider.testing":                                        true,
	"geo.wifi.scan":                                               false,
	"hangmonitor.timeout":                                         0,
	"javascript.options.showInConsole":                            true,
	"media.gmp-manager.updateEnabled":                             false,
	"media.sanity-test.disabled":                                  true,
	"network.cookie.sameSite.laxByDefault":                        false,
	"network.http.prompt-temp-redirect":                           false,
	"network.http.speculative-parallel-limit":                     0,
	"network.manage-offline-status":                               false,
	"network.sntp.pools":                                          "dummy.test",
	"plugin.state.flash":                                          0,
	"privacy.trackingprotection.enabled":                          false,
	"remote.active-protocols":                                     1,
	"remote.enabled":                                             true,
	"security.certerrors.mitm.priming.enabled":                    false,
	"security.fileuri.strict_origin_policy":                       false,
	"security.notification_enable_delay":                          0,
	"services.settings.server":                                    "http://dummy.test/dummy/blocklist/",
	"signon.autofillForms":                                        false,
	"signon.rememberSignons":                                      false,
	"startup.homepage_welcome_url":                                "about:blank",
	"startup.homepage_welcome_url.additional":                     "",
	"toolkit.cosmeticAnimations.enabled":                          false,
	"toolkit.startup.max_resumed_crashes":                         -1,
}

// UserJS renders prefs as a user.js file, one user_pref line per key in key order.
func UserJS(prefs map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		var literal string
		switch v := prefs[k].(type) {
		case string:
			literal = strconv.Quote(v)
		case bool:
			literal = strconv.FormatBool(v)
		case int:
			literal = strconv.Itoa(v)
		default:
			return "", fmt.Errorf("preference %s has unsupported type %T", k, v)
		}
		fmt.Fprintf(&b, "user_pref(%s, %s);\n", strconv.Quote(k), literal)
	}
	return b.String(), nil
}

// WriteProfile writes the automation preferences, merged with extra, into dir/user.js.
func WriteProfile(dir string, extra map[string]interface{}) error {
	prefs := make(map[string]interface{}, len(automationPrefs)+len(extra))
	for k, v := range automationPrefs {
		prefs[k] = v
	}
	for k, v := range extra {
		prefs[k] = v
	}
	js, err := UserJS(prefs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "user.js"), []byte(js), 0o600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}
