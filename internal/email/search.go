package email

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

// threadCriteria matches the root message and every message that names
// it in References or In-Reply-To.
func threadCriteria(rootID string) *imap.SearchCriteria {
	header := func(key string) imap.SearchCriteria {
		return imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: key, Value: rootID}},
		}
	}
	return &imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{
			header("Message-ID"),
			{Or: [][2]imap.SearchCriteria{{header("References"), header("In-Reply-To")}}},
		}},
	}
}

// SearchThread returns every message in folder that belongs to the
// conversation rooted at rootID, without marking any of them \Seen.
func (c *Client) SearchThread(ctx context.Context, folder, rootID string) ([]*Message, error) {
	return c.searchFull(ctx, folder, threadCriteria(rootID))
}

// FindMessage returns the message in folder with the given Message-ID,
// or nil when there is none.
func (c *Client) FindMessage(ctx context.Context, folder, messageID string) (*Message, error) {
	msgs, err := c.searchFull(ctx, folder, &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: messageID}},
	})
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		// HEADER search is a substring match.
		if m.MessageID == messageID {
			return m, nil
		}
	}
	return nil, nil
}

func (c *Client) searchFull(ctx context.Context, folder string, criteria *imap.SearchCriteria) ([]*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.selectFolder(folder); err != nil {
		return nil, err
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}
	return c.fetchMessages(folder, uidSet, true)
}

// AppendMessage stores a raw RFC 5322 message in folder with the \Seen
// flag set.
func (c *Client) AppendMessage(ctx context.Context, folder string, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	cmd := c.client.Append(folder, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("append to %s: %w", folder, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append to %s: %w", folder, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append to %s: %w", folder, err)
	}
	return nil
}
