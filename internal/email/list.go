package email

import (
	"context"
	"fmt"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Arrivals returns the envelopes of messages in folder with a UID above
// sinceUID, oldest first. The poller calls it with its high-water mark.
func (c *Client) Arrivals(ctx context.Context, folder string, sinceUID uint32) ([]Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	uids, err := c.searchUIDs(ctx, folder, &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: imap.UID(sinceUID + 1), Stop: 0}}},
	})
	if err != nil {
		return nil, err
	}
	uids = newerThan(uids, sinceUID)
	if len(uids) == 0 {
		return nil, nil
	}
	return c.fetchEnvelopes(imap.UIDSetNum(uids...))
}

// LatestUID returns the highest UID in folder, or 0 if it is empty.
func (c *Client) LatestUID(ctx context.Context, folder string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	uids, err := c.searchUIDs(ctx, folder, &imap.SearchCriteria{})
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, nil
	}
	return uint32(slices.Max(uids)), nil
}

// searchUIDs selects folder and runs a UID SEARCH. Caller must hold c.mu.
func (c *Client) searchUIDs(ctx context.Context, folder string, criteria *imap.SearchCriteria) ([]imap.UID, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.selectFolder(folder); err != nil {
		return nil, err
	}

	data, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}
	return data.AllUIDs(), nil
}

// newerThan keeps the UIDs above since, in ascending order. A "N:*"
// range always matches the highest UID in the folder, even when that
// UID is below N, so the server's answer cannot be used as is.
func newerThan(uids []imap.UID, since uint32) []imap.UID {
	out := make([]imap.UID, 0, len(uids))
	for _, uid := range uids {
		if uint32(uid) > since {
			out = append(out, uid)
		}
	}
	slices.Sort(out)
	return out
}

// fetchEnvelopes fetches envelope data for the given UIDs and returns
// them in ascending UID order. Caller must hold c.mu and have a
// selected folder.
func (c *Client) fetchEnvelopes(uidSet imap.UIDSet) ([]Envelope, error) {
	fetchCmd := c.client.Fetch(uidSet, &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	})

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		env, err := parseEnvelope(msg)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		envelopes = append(envelopes, env)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	slices.SortFunc(envelopes, func(a, b Envelope) int {
		return int(int64(a.UID) - int64(b.UID))
	})
	return envelopes, nil
}

// parseEnvelope extracts an Envelope from one FETCH response.
func parseEnvelope(msg *imapclient.FetchMessageData) (Envelope, error) {
	var env Envelope
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope == nil {
				continue
			}
			env.Date = data.Envelope.Date
			env.Subject = data.Envelope.Subject
			if len(data.Envelope.From) > 0 {
				env.From = formatAddress(data.Envelope.From[0])
			}
			for _, addr := range data.Envelope.To {
				env.To = append(env.To, formatAddress(addr))
			}
		}
	}
	if env.UID == 0 {
		return env, fmt.Errorf("message missing UID")
	}
	return env, nil
}

// formatAddress formats an IMAP address as "Name <user@host>" or
// just "user@host" if no name is set.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
