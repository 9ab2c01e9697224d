// SPDX-License-Identifier: MIT

package command

import "testing"

func TestClientInitFieldOrderAndLiterals(t *testing.T) {
	c := ClientInit("tester", 12345)
	want := "clientinit client_nickname=tester client_version=3.1.6\\s[Build:\\s1502873983] " +
		"client_platform=Linux client_input_hardware=1 client_output_hardware=1 " +
		"client_default_channel= client_default_channel_password= client_server_password= " +
		"client_meta_data= client_version_sign=o+l92HKfiUF+THx2rBsuNjj\\/S1QpxG1fd5o3Q7qtWxkviR3LI3JeWyc26eTmoQoMTgI3jjHV7dCwHsK1BVu6Aw== " +
		"client_key_offset=12345 client_nickname_phonetic= client_default_token= hwid=123,456"
	if got := c.String(); got != want {
		t.Fatalf("ClientInit() =\n%q\nwant\n%q", got, want)
	}
}

func TestClientDisconnectReasonAndMessageAreIndependent(t *testing.T) {
	reason := ReasonLeftServer

	withBoth := ClientDisconnect(&reason, "bye")
	if got, want := withBoth.String(), "clientdisconnect reasonid=3 reasonmsg=bye"; got != want {
		t.Fatalf("with reason+message = %q, want %q", got, want)
	}

	messageOnly := ClientDisconnect(nil, "bye")
	if got, want := messageOnly.String(), "clientdisconnect reasonmsg=bye"; got != want {
		t.Fatalf("message-only = %q, want %q", got, want)
	}

	reasonOnly := ClientDisconnect(&reason, "")
	if got, want := reasonOnly.String(), "clientdisconnect reasonid=3"; got != want {
		t.Fatalf("reason-only = %q, want %q", got, want)
	}

	empty := ClientDisconnect(nil, "")
	if got, want := empty.String(), "clientdisconnect"; got != want {
		t.Fatalf("empty = %q, want %q", got, want)
	}
}

func TestParseRoundTripsEscapedValues(t *testing.T) {
	n := Parse("notifyinitserver virtualserver_name=Foo\\sBar virtualserver_welcomemessage=Hi\\sthere aclid=7")
	if n.Name != "notifyinitserver" {
		t.Fatalf("Name = %q, want notifyinitserver", n.Name)
	}
	if n.Fields["virtualserver_name"] != "Foo Bar" {
		t.Fatalf("virtualserver_name = %q, want %q", n.Fields["virtualserver_name"], "Foo Bar")
	}
	if n.Fields["aclid"] != "7" {
		t.Fatalf("aclid = %q, want 7", n.Fields["aclid"])
	}
}

func TestParseTruncatesAtFirstEntitySeparator(t *testing.T) {
	n := Parse("notifychannellistfinished|cid=2 channel_name=Two cid=3 channel_name=Three")
	if n.Name != "notifychannellistfinished" {
		t.Fatalf("Name = %q, want notifychannellistfinished", n.Name)
	}
	if len(n.Fields) != 0 {
		t.Fatalf("Fields = %v, want empty", n.Fields)
	}
}
